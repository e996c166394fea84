//go:build e2e

// Package e2e_test runs the integration roles of a collection against a
// CML lab:
//
//	go test -tags e2e ./test/e2e -args \
//	    --cml-lab=labs/ios.yaml --integration-tests-path=tests/integration/targets
package e2e_test

import (
	"testing"

	"github.com/netlab-ci/cmltest/pkg/harness"
)

func TestMain(m *testing.M) {
	harness.Main(m)
}
