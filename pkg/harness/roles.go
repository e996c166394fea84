package harness

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/netlab-ci/cmltest/pkg/ansible"
)

// Roles lists the integration roles below the session's tests path.
func Roles(t testing.TB) []ansible.Role {
	t.Helper()
	s := Require(t)
	roles, err := ansible.Roles(s.Config.TestsPath)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	return roles
}

// ForEachRole runs fn as a subtest per role, named after the role
// directory. Each subtest is recorded in the session report.
func ForEachRole(t *testing.T, fn func(t *testing.T, role ansible.Role)) {
	t.Helper()
	s := Require(t)
	s.report.Track(t)
	roles := Roles(t)
	if len(roles) == 0 {
		t.Skipf("no roles below %s", s.Config.TestsPath)
	}
	for _, role := range roles {
		t.Run(role.Name, func(t *testing.T) {
			s.report.Track(t)
			fn(t, role)
		})
	}
}

// NetworkTestVars returns the network test parameters for t. Fixtures are
// looked up below integration/fixtures in the package directory.
func NetworkTestVars(t testing.TB) *ansible.NetworkTestVars {
	t.Helper()
	vars, err := ansible.NewNetworkTestVars(".", t.Name(), os.Getenv(ansible.EnvTestMode))
	if err != nil {
		t.Fatalf("network test vars: %v", err)
	}
	return vars
}

// Project writes an ansible project for role into a temporary directory.
func Project(t testing.TB, role ansible.Role) *ansible.Project {
	t.Helper()
	s := Require(t)
	p, err := ansible.WriteProject(t.TempDir(), s.Conn, role.Path)
	if err != nil {
		t.Fatalf("write project: %v", err)
	}
	t.Logf("inventory path: %s", p.Inventory)
	t.Logf("playbook path: %s", p.Playbook)
	return p
}

// Environment returns the process environment with an active virtual
// environment's bin directory first on PATH.
func Environment() []string {
	return ansible.Environment(os.Environ())
}

// RunRole runs role's playbook against the appliance with the network
// test vars and fails t if it does not succeed. On failure the playbook
// output is logged and the error is noted in the session report.
func RunRole(t *testing.T, role ansible.Role) {
	t.Helper()
	runRole(t, role, "")
}

func runRole(t *testing.T, role ansible.Role, command string) {
	t.Helper()
	p := Project(t, role)
	p.Command = command

	ctx := context.Background()
	if deadline, ok := t.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var out bytes.Buffer
	err := p.Run(ctx, ansible.RunOptions{
		Env:       Environment(),
		ExtraVars: NetworkTestVars(t),
		Stdout:    &out,
		Stderr:    &out,
	})
	if err != nil {
		t.Logf("%s", out.String())
		if s := Current(); s != nil {
			s.report.Comment(t, err.Error())
		}
		t.Fatalf("%v", err)
	}
}
