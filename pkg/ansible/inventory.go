// Package ansible builds the inventory, playbook and variables an
// integration role runs with, and runs ansible-playbook against them.
package ansible

import (
	"github.com/netlab-ci/cmltest/pkg/lab"
)

// ApplianceHost is the inventory host name of the device under test.
const ApplianceHost = "appliance"

// Connection plugin settings for network_cli over libssh.
const (
	ConnectionNetworkCLI = "ansible.netcommon.network_cli"
	SSHTypeLibssh        = "libssh"
)

// Inventory is a JSON inventory with a single group.
type Inventory struct {
	All Group `json:"all"`
}

// Group is an inventory group.
type Group struct {
	Hosts map[string]HostVars `json:"hosts"`
	Vars  map[string]string   `json:"vars"`
}

// HostVars are the connection variables for one host.
type HostVars struct {
	Become               bool   `json:"ansible_become"`
	Host                 string `json:"ansible_host"`
	User                 string `json:"ansible_user"`
	Password             string `json:"ansible_password"`
	Port                 int    `json:"ansible_port"`
	HTTPAPIPort          int    `json:"ansible_httpapi_port"`
	Connection           string `json:"ansible_connection"`
	NetworkCLISSHType    string `json:"ansible_network_cli_ssh_type"`
	PythonInterpreter    string `json:"ansible_python_interpreter"`
	NetworkImportModules bool   `json:"ansible_network_import_modules"`
}

// NewInventory returns an inventory reaching the appliance through the
// CML host's forwarded SSH and HTTP ports.
func NewInventory(conn *lab.Connection) *Inventory {
	return &Inventory{
		All: Group{
			Hosts: map[string]HostVars{
				ApplianceHost: {
					Host:                 conn.Host,
					User:                 conn.DeviceUser,
					Password:             conn.DevicePassword,
					Port:                 conn.SSHPort,
					HTTPAPIPort:          conn.HTTPPort,
					Connection:           ConnectionNetworkCLI,
					NetworkCLISSHType:    SSHTypeLibssh,
					PythonInterpreter:    "python",
					NetworkImportModules: true,
				},
			},
			Vars: map[string]string{"ansible_network_os": conn.NetworkOS},
		},
	}
}

// Play is one play of a playbook.
type Play struct {
	Hosts       string `json:"hosts"`
	GatherFacts bool   `json:"gather_facts"`
	Tasks       []Task `json:"tasks"`
}

// Task is a play task. Only include_role is used.
type Task struct {
	Name        string      `json:"name"`
	IncludeRole IncludeRole `json:"include_role"`
}

// IncludeRole names the role to include, by name or path.
type IncludeRole struct {
	Name string `json:"name"`
}

// Playbook returns a single play running role against all hosts.
func Playbook(role string) []Play {
	return []Play{{
		Hosts:       "all",
		GatherFacts: false,
		Tasks: []Task{{
			Name:        "Run role " + role,
			IncludeRole: IncludeRole{Name: role},
		}},
	}}
}
