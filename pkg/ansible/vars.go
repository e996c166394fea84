package ansible

import (
	"os"
	"path/filepath"
	"strings"
)

// Network test settings.
const (
	EnvTestMode           = "ANSIBLE_NETWORK_TEST_MODE"
	DefaultTestMode       = "playback"
	DefaultMatchThreshold = 0.90
	EnvVirtualEnv         = "VIRTUAL_ENV"
)

// NetworkTestParameters tell the network test collection where recorded
// fixtures live and whether to record or play them back.
type NetworkTestParameters struct {
	FixtureDirectory string  `json:"fixture_directory"`
	MatchThreshold   float64 `json:"match_threshold"`
	Mode             string  `json:"mode"`
}

// NetworkTestVars are the extra vars passed to every role.
type NetworkTestVars struct {
	Parameters NetworkTestParameters `json:"ansible_network_test_parameters"`
}

// NewNetworkTestVars builds the vars for a test. Fixtures live under
// <root>/integration/fixtures/<testName>, where testName is a slash
// separated test path such as "TestIntegration/vlans". mode is lower-cased
// and defaults to playback.
func NewNetworkTestVars(root, testName, mode string) (*NetworkTestVars, error) {
	dir, err := filepath.Abs(filepath.Join(root, "integration", "fixtures", filepath.FromSlash(testName)))
	if err != nil {
		return nil, err
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = DefaultTestMode
	}
	return &NetworkTestVars{Parameters: NetworkTestParameters{
		FixtureDirectory: dir,
		MatchThreshold:   DefaultMatchThreshold,
		Mode:             mode,
	}}, nil
}

// Environment returns environ with $VIRTUAL_ENV/bin prepended to PATH when
// a virtual environment is active, so its ansible-playbook is found first.
func Environment(environ []string) []string {
	venv := lookup(environ, EnvVirtualEnv)
	out := append([]string(nil), environ...)
	if venv == "" {
		return out
	}
	bin := filepath.Join(venv, "bin")
	for i, kv := range out {
		if strings.HasPrefix(kv, "PATH=") {
			out[i] = "PATH=" + bin + string(os.PathListSeparator) + kv[len("PATH="):]
			return out
		}
	}
	return append(out, "PATH="+bin)
}

func lookup(environ []string, key string) string {
	prefix := key + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}
