package lab

import (
	"fmt"
	"net"
	"time"

	"github.com/netlab-ci/cmltest/pkg/config"
)

// Port bases. The CML host forwards base+<last octet of the appliance
// address> to the matching service on the appliance.
const (
	SSHPortBase     = 2000
	NetconfPortBase = 3000
	HTTPSPortBase   = 4000
	HTTPPortBase    = 8000
)

// Ports are the forwarded service ports for one appliance.
type Ports struct {
	SSH     int `json:"ssh"`
	Netconf int `json:"netconf"`
	HTTPS   int `json:"https"`
	HTTP    int `json:"http"`
}

// PortsFor derives the forwarded ports from an IPv4 appliance address.
func PortsFor(address string) (Ports, error) {
	ip := net.ParseIP(address).To4()
	if ip == nil {
		return Ports{}, fmt.Errorf("lab: appliance address %q is not IPv4", address)
	}
	last := int(ip[3])
	return Ports{
		SSH:     SSHPortBase + last,
		Netconf: NetconfPortBase + last,
		HTTPS:   HTTPSPortBase + last,
		HTTP:    HTTPPortBase + last,
	}, nil
}

// Connection is the session context handed to tests once the lab is up.
// Tests reach the appliance through Host on the forwarded ports.
type Connection struct {
	LabID    string `json:"lab_id"`
	LabTitle string `json:"lab_title"`
	Reused   bool   `json:"reused"`

	// Host is the CML host name; Address is the appliance's DHCP address
	// on the host's libvirt network.
	Host      string `json:"host"`
	Address   string `json:"address"`
	NetworkOS string `json:"network_os"`

	SSHPort     int `json:"ssh_port"`
	NetconfPort int `json:"netconf_port"`
	HTTPSPort   int `json:"https_port"`
	HTTPPort    int `json:"http_port"`

	DeviceUser     string `json:"device_user"`
	DevicePassword string `json:"device_password"`

	ProvisionTime time.Duration `json:"provision_time"`
}

// NewConnection builds the connection context for an appliance address.
func NewConnection(labID, host, address string, cfg *config.Config) (*Connection, error) {
	ports, err := PortsFor(address)
	if err != nil {
		return nil, err
	}
	return &Connection{
		LabID:          labID,
		Host:           host,
		Address:        address,
		NetworkOS:      cfg.NetworkOS,
		SSHPort:        ports.SSH,
		NetconfPort:    ports.Netconf,
		HTTPSPort:      ports.HTTPS,
		HTTPPort:       ports.HTTP,
		DeviceUser:     cfg.DeviceUser,
		DevicePassword: cfg.DevicePassword,
	}, nil
}

// Ports returns the forwarded ports as a group.
func (c *Connection) Ports() Ports {
	return Ports{SSH: c.SSHPort, Netconf: c.NetconfPort, HTTPS: c.HTTPSPort, HTTP: c.HTTPPort}
}
