//go:build e2e

package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlab-ci/cmltest/pkg/harness"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

func TestAppliance_Ports(t *testing.T) {
	conn := harness.Connection(t)

	ports, err := lab.PortsFor(conn.Address)
	require.NoError(t, err)
	assert.Equal(t, ports, conn.Ports())
	assert.NotEmpty(t, conn.NetworkOS)
}

func TestAppliance_SSH(t *testing.T) {
	conn := harness.Connection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	err := lab.WaitForSSH(ctx, conn.Host, conn.SSHPort, conn.DeviceUser, conn.DevicePassword, 5*time.Second)
	require.NoError(t, err, "appliance ssh through %s:%d", conn.Host, conn.SSHPort)
}
