package lab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// State is persisted to ~/.cmltest/labs/<lab-id>/state.json by the CLI so
// a later `cmltest down` can find the lab again.
type State struct {
	LabID      string      `json:"lab_id"`
	Title      string      `json:"title"`
	Created    time.Time   `json:"created"`
	LabFile    string      `json:"lab_file"`
	TestsPath  string      `json:"tests_path,omitempty"`
	CMLHost    string      `json:"cml_host"`
	Reused     bool        `json:"reused"`
	Connection *Connection `json:"connection,omitempty"`
}

// StateRoot returns the directory holding per-lab state. CMLTEST_HOME
// overrides ~/.cmltest.
func StateRoot() string {
	if dir := os.Getenv("CMLTEST_HOME"); dir != "" {
		return filepath.Join(dir, "labs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cmltest", "labs")
	}
	return filepath.Join(home, ".cmltest", "labs")
}

// StateDir returns the state directory for a lab id.
func StateDir(labID string) string {
	return filepath.Join(StateRoot(), labID)
}

// SaveState writes state.json for state.LabID. Device passwords are not
// written.
func SaveState(state *State) error {
	if state.LabID == "" {
		return fmt.Errorf("lab: save state: empty lab id")
	}
	dir := StateDir(state.LabID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("lab: create state dir: %w", err)
	}

	saved := *state
	if state.Connection != nil {
		conn := *state.Connection
		conn.DevicePassword = ""
		saved.Connection = &conn
	}
	data, err := json.MarshalIndent(&saved, "", "    ")
	if err != nil {
		return fmt.Errorf("lab: marshal state: %w", err)
	}

	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("lab: write state: %w", err)
	}
	return nil
}

// LoadState reads state.json for a lab id.
func LoadState(labID string) (*State, error) {
	path := filepath.Join(StateDir(labID), "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("lab: %s not found (no state.json)", labID)
		}
		return nil, fmt.Errorf("lab: read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("lab: parse state.json: %w", err)
	}
	return &state, nil
}

// RemoveState deletes the lab's state directory.
func RemoveState(labID string) error {
	return os.RemoveAll(StateDir(labID))
}

// ListStates returns the ids of all labs with saved state, sorted.
func ListStates() ([]string, error) {
	entries, err := os.ReadDir(StateRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lab: list labs: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
