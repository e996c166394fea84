package ansible

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Role is an integration test target: one directory below the tests path.
type Role struct {
	Name string
	Path string
}

// Roles lists the directories directly below testsPath, sorted by name.
// Hidden directories are skipped.
func Roles(testsPath string) ([]Role, error) {
	abs, err := filepath.Abs(testsPath)
	if err != nil {
		return nil, fmt.Errorf("ansible: resolve %s: %w", testsPath, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("ansible: list roles: %w", err)
	}

	var roles []Role
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		roles = append(roles, Role{Name: e.Name(), Path: filepath.Join(abs, e.Name())})
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}
