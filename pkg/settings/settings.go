// Package settings manages persistent user defaults for the cmltest CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences. Every field is a fallback
// used only when neither a flag nor an environment variable is given.
type Settings struct {
	// LabFile is the default CML topology file (--cml-lab)
	LabFile string `json:"lab_file,omitempty"`

	// TestsPath is the default integration test directory (--integration-tests-path)
	TestsPath string `json:"tests_path,omitempty"`

	// ConfigFile is the default YAML config file (--cml-config)
	ConfigFile string `json:"config_file,omitempty"`

	// EnvFile is the default .env file (--env-file)
	EnvFile string `json:"env_file,omitempty"`
}

// Keys lists the names accepted by Set, in display order.
var Keys = []string{"lab", "tests", "config", "env-file"}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cmltest_settings.json"
	}
	return filepath.Join(home, ".cmltest", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Set assigns a value by key name. Paths are made absolute so the
// settings stay valid from any working directory.
func (s *Settings) Set(key, value string) error {
	if value != "" {
		abs, err := filepath.Abs(value)
		if err != nil {
			return err
		}
		value = abs
	}
	switch key {
	case "lab":
		s.LabFile = value
	case "tests":
		s.TestsPath = value
	case "config":
		s.ConfigFile = value
	case "env-file":
		s.EnvFile = value
	default:
		return fmt.Errorf("unknown setting %q (valid: lab, tests, config, env-file)", key)
	}
	return nil
}

// Get returns a value by key name.
func (s *Settings) Get(key string) string {
	switch key {
	case "lab":
		return s.LabFile
	case "tests":
		return s.TestsPath
	case "config":
		return s.ConfigFile
	case "env-file":
		return s.EnvFile
	}
	return ""
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
