package virsh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlab-ci/cmltest/internal/testutil"
)

func dialFake(t *testing.T, srv *testutil.FakeSSH) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.Host(), srv.Port(), "sysadmin", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDial_BadPassword(t *testing.T) {
	srv := testutil.NewFakeSSH(t, "sysadmin", "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, srv.Host(), srv.Port(), "sysadmin", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1", 1, "u", "p")
	assert.Error(t, err)
}

func TestClient_Inspect(t *testing.T) {
	srv := testutil.NewFakeSSH(t, "sysadmin", "secret")
	srv.SetOutput("sudo virsh list --all", listOutput)
	srv.SetOutput("sudo virsh dumpxml 7", "<domain><name>n1</name><devices><interface type='network'><mac address='52:54:00:ab:cd:01'/></interface></devices></domain>")
	srv.SetOutput("sudo virsh net-dhcp-leases default", leasesOutput)

	c := dialFake(t, srv)
	ctx := context.Background()

	ids, err := c.ListDomainIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "7", "12"}, ids)

	xmlText, err := c.DumpXML(ctx, "7")
	require.NoError(t, err)
	d, err := ParseDomain(xmlText)
	require.NoError(t, err)

	leases, err := c.DHCPLeases(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.122.41"}, AddressesFor(leases, d.MACs()))

	assert.Equal(t, []string{
		"sudo virsh list --all",
		"sudo virsh dumpxml 7",
		"sudo virsh net-dhcp-leases default",
	}, srv.Commands())
}

func TestClient_ExecFailure(t *testing.T) {
	srv := testutil.NewFakeSSH(t, "sysadmin", "secret")
	srv.SetResult("sudo virsh list --all", testutil.ExecResult{Stderr: "sudo: a password is required", Status: 1})

	c := dialFake(t, srv)
	_, stderr, err := c.Exec(context.Background(), "sudo virsh list --all")
	require.Error(t, err)
	assert.Equal(t, "sudo: a password is required", stderr)

	_, err = c.ListDomainIDs(context.Background())
	assert.Error(t, err)
}
