//go:build e2e

package e2e_test

import (
	"testing"

	"github.com/netlab-ci/cmltest/pkg/ansible"
	"github.com/netlab-ci/cmltest/pkg/harness"
)

func TestIntegration(t *testing.T) {
	harness.ForEachRole(t, func(t *testing.T, role ansible.Role) {
		harness.RunRole(t, role)
	})
}
