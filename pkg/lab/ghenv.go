package lab

import (
	"fmt"
	"os"
	"strings"
)

// GitHub Actions variables consulted by RecordGitHubLab.
const (
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitHubEnv     = "GITHUB_ENV"
	labsVariable     = "CML_LABS="
)

// RecordGitHubLab appends labID to the CML_LABS line of the $GITHUB_ENV
// file so a workflow can remove the lab if the job is cancelled. It does
// nothing outside GitHub Actions. lookup defaults to os.LookupEnv.
func RecordGitHubLab(lookup func(string) (string, bool), labID string) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, _ := lookup(EnvGitHubActions); v == "" {
		return nil
	}
	path, _ := lookup(EnvGitHubEnv)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lab: read %s: %w", path, err)
	}

	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, labsVariable) {
			lines[i] = line + "," + labID
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, labsVariable+labID)
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("lab: write %s: %w", path, err)
	}
	return nil
}
