// Package version carries build metadata injected at link time.
package version

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/netlab-ci/cmltest/pkg/version.Version=v0.3.0 \
//	  -X github.com/netlab-ci/cmltest/pkg/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String formats the version line printed by a tool.
func String(tool string) string {
	if Version == "dev" {
		return tool + " dev build"
	}
	return fmt.Sprintf("%s %s (%s) built %s", tool, Version, GitCommit, BuildDate)
}

// UserAgent is sent with every CML API request.
func UserAgent() string {
	return "cmltest/" + Version
}
