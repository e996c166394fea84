package version

import "testing"

func TestString(t *testing.T) {
	if got := String("cmltest"); got != "cmltest dev build" {
		t.Errorf("String() = %q", got)
	}

	Version, GitCommit, BuildDate = "v0.3.0", "abc1234", "2026-01-01"
	defer func() { Version, GitCommit, BuildDate = "dev", "unknown", "unknown" }()

	if got := String("cmltest"); got != "cmltest v0.3.0 (abc1234) built 2026-01-01" {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); got != "cmltest/v0.3.0" {
		t.Errorf("UserAgent() = %q", got)
	}
}
