package virsh

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listOutput = ` Id   Name                                   State
-------------------------------------------------------
 1    3a40c1d8-0f7b-4f7c-8a34-0e4a1d7a2b11   running
 7    e1b4c7d2-3c2a-4d5e-9f10-9fde01aa0001   running
 12   5d7a9e0c-1111-4c3d-8e2f-a0b1c2d3e4f5   running
 -    0a0b0c0d-2222-4e5f-9a8b-7c6d5e4f3a2b   shut off
`

const leasesOutput = ` Expiry Time           MAC address         Protocol   IP address          Hostname   Client ID or DUID
------------------------------------------------------------------------------------------------------------
 2026-10-15 10:21:03   52:54:00:ab:cd:01   ipv4       192.168.122.41/24   ios        01:52:54:00:ab:cd:01
 2026-10-15 10:21:03   52:54:00:11:22:33   ipv4       192.168.122.17/24   -          01:52:54:00:11:22:33
 2026-10-15 10:25:40   52:54:00:AB:CD:01   ipv4       192.168.122.41/24   ios        01:52:54:00:ab:cd:01
`

func TestParseDomainIDs(t *testing.T) {
	assert.Equal(t, []string{"1", "7", "12"}, ParseDomainIDs(listOutput))
	assert.Empty(t, ParseDomainIDs(""))
	assert.Empty(t, ParseDomainIDs(" Id   Name   State\n------\n"))
}

func TestParseDomain(t *testing.T) {
	data, err := os.ReadFile("testdata/domain.xml")
	require.NoError(t, err)

	d, err := ParseDomain(string(data))
	require.NoError(t, err)
	assert.Equal(t, "e1b4c7d2-3c2a-4d5e-9f10-9fde01aa0001", d.Name)
	assert.Equal(t, "6f1c2e8a-0b7e-4b61-a0a4-1d5b3e0d9a11", d.UUID)
	require.Len(t, d.Interfaces, 3)
	assert.Equal(t, "network", d.Interfaces[0].Type)

	// the interface without a mac element is skipped
	assert.Equal(t, []string{"52:54:00:ab:cd:01", "52:54:00:ab:cd:02"}, d.MACs())
}

func TestParseDomain_Invalid(t *testing.T) {
	_, err := ParseDomain("<domain><name>")
	assert.Error(t, err)
}

func TestParseLeases(t *testing.T) {
	leases := ParseLeases(leasesOutput)
	require.Len(t, leases, 3)
	assert.Equal(t, Lease{MAC: "52:54:00:ab:cd:01", Protocol: "ipv4", Address: "192.168.122.41", Hostname: "ios"}, leases[0])
	assert.Equal(t, "-", leases[1].Hostname)
	assert.Equal(t, "52:54:00:ab:cd:01", leases[2].MAC)
}

func TestAddressesFor(t *testing.T) {
	leases := ParseLeases(leasesOutput)

	tests := []struct {
		name string
		macs []string
		want []string
	}{
		{"renewed lease deduplicated", []string{"52:54:00:ab:cd:01"}, []string{"192.168.122.41"}},
		{"case insensitive", []string{"52:54:00:AB:CD:01"}, []string{"192.168.122.41"}},
		{"two interfaces", []string{"52:54:00:11:22:33", "52:54:00:ab:cd:01"}, []string{"192.168.122.41", "192.168.122.17"}},
		{"no lease yet", []string{"52:54:00:ff:ff:ff"}, nil},
		{"no macs", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddressesFor(leases, tt.macs))
		})
	}
}
