package harness

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlab-ci/cmltest/internal/testutil"
	"github.com/netlab-ci/cmltest/pkg/ansible"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

type runnerFunc func() int

func (f runnerFunc) Run() int { return f() }

type session struct {
	cml     *testutil.FakeCML
	ssh     *testutil.FakeSSH
	env     map[string]string
	options config.Options
}

func newSession(t *testing.T) *session {
	t.Helper()
	s := &session{
		cml: testutil.NewFakeCML(t),
		ssh: testutil.NewFakeSSH(t, "sysadmin", "secret"),
	}
	testutil.ServeVirsh(s.ssh, s.cml, "52:54:00:ab:cd:01", "192.168.122.41")

	tests := t.TempDir()
	for _, role := range []string{"vlans", "acls"} {
		require.NoError(t, os.Mkdir(filepath.Join(tests, role), 0755))
	}

	s.env = map[string]string{
		config.EnvCMLHost:      s.cml.URL(),
		config.EnvCMLUser:      "admin",
		config.EnvCMLPassword:  "admin",
		config.EnvSSHUser:      "sysadmin",
		config.EnvSSHPassword:  "secret",
		config.EnvSSHPort:      strconv.Itoa(s.ssh.Port()),
		config.EnvNetworkOS:    "cisco.ios.ios",
		config.EnvPollInterval: "10ms",
		config.EnvReadyTimeout: "2s",
		config.EnvLogLevel:     "warn",
	}
	s.options = config.Options{
		LabFile:   "testdata/ios.yaml",
		TestsPath: tests,
		LookupEnv: func(k string) (string, bool) {
			v, ok := s.env[k]
			return v, ok
		},
	}
	return s
}

func (s *session) run(m Runner, stderr *bytes.Buffer) int {
	return Run(m,
		WithConfigOptions(s.options),
		WithStderr(stderr),
		WithDriverOptions(
			lab.WithDomainRetry(2, 5*time.Millisecond),
			lab.WithLeaseRetry(2, 5*time.Millisecond),
			lab.WithLookupEnv(func(string) (string, bool) { return "", false }),
		),
	)
}

func fakePlaybook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ansible-playbook")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho \"$@\"\n"), 0755))
	return path
}

func TestRun_Session(t *testing.T) {
	s := newSession(t)
	reportPath := filepath.Join(t.TempDir(), "out", "report.md")
	s.env[config.EnvReport] = reportPath
	playbook := fakePlaybook(t)

	var (
		mu    sync.Mutex
		roles []string
		sess  *Session
	)
	m := runnerFunc(func() int {
		sess = Current()
		t.Run("TestRoles", func(t *testing.T) {
			ForEachRole(t, func(t *testing.T, role ansible.Role) {
				mu.Lock()
				roles = append(roles, role.Name)
				mu.Unlock()
				runRole(t, role, playbook)
			})
		})
		return 0
	})

	var stderr bytes.Buffer
	code := s.run(m, &stderr)
	require.Equal(t, 0, code, stderr.String())

	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "cmltest-ios", sess.Conn.LabTitle)
	assert.Equal(t, "192.168.122.41", sess.Conn.Address)
	assert.Equal(t, "127.0.0.1", sess.Conn.Host)
	assert.Equal(t, 2041, sess.Conn.SSHPort)
	assert.Equal(t, 8041, sess.Conn.HTTPPort)
	assert.Equal(t, "cisco.ios.ios", sess.Config.NetworkOS)
	assert.Equal(t, []string{"acls", "vlans"}, roles)

	// the session is discarded and the lab removed once tests finish
	assert.Nil(t, Current())
	assert.Zero(t, s.cml.LabCount())
	assert.Equal(t, 1, s.cml.CallCount("DELETE"))

	report, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "| **Lab** | cmltest-ios")
	assert.Contains(t, string(report), "| **Passed** | 1 |")
	assert.Contains(t, string(report), "TestRun_Session/TestRoles | PASS")
}

func TestRun_ConfigurationError(t *testing.T) {
	s := newSession(t)
	delete(s.env, config.EnvCMLHost)
	s.env[config.EnvSSHUser] = ""

	called := false
	var stderr bytes.Buffer
	code := s.run(runnerFunc(func() int { called = true; return 0 }), &stderr)

	assert.Equal(t, ExitConfiguration, code)
	assert.False(t, called, "no test may run")
	assert.Contains(t, stderr.String(), "environment variable VIRL_HOST is not set")
	assert.Contains(t, stderr.String(), "environment variable CML_SSH_USER is not set")
	assert.Empty(t, s.cml.Calls(), "configuration errors fail before any network call")
}

func TestRun_InvalidTopology(t *testing.T) {
	s := newSession(t)
	bad := filepath.Join(t.TempDir(), "lab.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("lab:\n  title: ''\nnodes: []\n"), 0644))
	s.options.LabFile = bad

	var stderr bytes.Buffer
	code := s.run(runnerFunc(func() int { return 0 }), &stderr)
	assert.Equal(t, ExitConfiguration, code)
	assert.Contains(t, stderr.String(), "lab.title is required")
	assert.Empty(t, s.cml.Calls())
}

func TestRun_LabNeverReady(t *testing.T) {
	s := newSession(t)
	s.cml.ConvergeAfter = -1
	s.env[config.EnvReadyTimeout] = "100ms"

	called := false
	var stderr bytes.Buffer
	code := s.run(runnerFunc(func() int { called = true; return 0 }), &stderr)

	assert.Equal(t, ExitUnavailable, code)
	assert.False(t, called, "no test may run")
	assert.Contains(t, stderr.String(), "unavailable at converge after 100ms")
	assert.Contains(t, stderr.String(), "provisioning failed, removing lab", "session logs go to the configured writer")
	assert.Zero(t, s.cml.LabCount())
	assert.Nil(t, Current())
}

func TestRun_PropagatesTestFailure(t *testing.T) {
	s := newSession(t)
	var stderr bytes.Buffer
	code := s.run(runnerFunc(func() int { return 1 }), &stderr)
	assert.Equal(t, 1, code)
	assert.Zero(t, s.cml.LabCount(), "lab is torn down even when tests fail")
}

func TestRun_KeepLab(t *testing.T) {
	s := newSession(t)
	s.env[config.EnvKeepLab] = "true"
	var stderr bytes.Buffer
	require.Equal(t, 0, s.run(runnerFunc(func() int { return 0 }), &stderr))
	assert.Equal(t, 1, s.cml.LabCount())
}

func TestRequire_SkipsWithoutSession(t *testing.T) {
	require.Nil(t, Current())
	reached := false
	ok := t.Run("inner", func(t *testing.T) {
		Require(t)
		reached = true
	})
	assert.True(t, ok)
	assert.False(t, reached)
}

func TestNetworkTestVars(t *testing.T) {
	t.Setenv(ansible.EnvTestMode, "RECORD")
	vars := NetworkTestVars(t)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "integration", "fixtures", "TestNetworkTestVars"), vars.Parameters.FixtureDirectory)
	assert.Equal(t, "record", vars.Parameters.Mode)
	assert.InDelta(t, 0.90, vars.Parameters.MatchThreshold, 1e-9)

	data, err := json.Marshal(vars)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"ansible_network_test_parameters":`))
}

func TestEnvironment(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "/opt/venv")
	t.Setenv("PATH", "/usr/bin")

	var path string
	for _, kv := range Environment() {
		if strings.HasPrefix(kv, "PATH=") {
			path = kv
		}
	}
	assert.Equal(t, "PATH=/opt/venv/bin"+string(os.PathListSeparator)+"/usr/bin", path)
}
