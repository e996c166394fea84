// Package topology reads CML lab topology files.
package topology

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/netlab-ci/cmltest/pkg/util"
)

// Node definitions that never host the device under test.
var infrastructureDefinitions = map[string]bool{
	"external_connector": true,
	"unmanaged_switch":   true,
	"ums":                true,
}

// Lab is a parsed CML topology file. Only the fields cmltest needs are
// decoded; Raw keeps the original document for import.
type Lab struct {
	Meta  LabMeta `yaml:"lab"`
	Nodes []Node  `yaml:"nodes"`
	Links []Link  `yaml:"links"`

	Path string `yaml:"-"`
	raw  []byte
}

// LabMeta is the lab: header of a topology file.
type LabMeta struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// Node is a device in the topology.
type Node struct {
	ID              string      `yaml:"id"`
	Label           string      `yaml:"label"`
	NodeDefinition  string      `yaml:"node_definition"`
	ImageDefinition string      `yaml:"image_definition,omitempty"`
	Interfaces      []Interface `yaml:"interfaces"`
}

// Interface is a node port.
type Interface struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
	Slot  *int   `yaml:"slot,omitempty"`
}

// Link connects interface I1 of node N1 to interface I2 of node N2.
type Link struct {
	ID string `yaml:"id"`
	N1 string `yaml:"n1"`
	I1 string `yaml:"i1"`
	N2 string `yaml:"n2"`
	I2 string `yaml:"i2"`
}

// Load reads and validates a topology file.
func Load(path string) (*Lab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}
	lab, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("topology: %s: %w", path, err)
	}
	lab.Path = path
	return lab, nil
}

// Parse decodes and validates topology YAML.
func Parse(data []byte) (*Lab, error) {
	var lab Lab
	if err := yaml.Unmarshal(data, &lab); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	lab.raw = data
	if err := lab.Validate(); err != nil {
		return nil, err
	}
	return &lab, nil
}

// Raw returns the document as read, for submission to the CML import API.
func (l *Lab) Raw() []byte {
	return l.raw
}

// Title returns the lab title.
func (l *Lab) Title() string {
	return l.Meta.Title
}

// Validate checks that the title is set, node ids and labels are unique and
// every link endpoint exists.
func (l *Lab) Validate() error {
	var vb util.ValidationBuilder

	vb.Add(l.Meta.Title != "", "lab.title is required")
	vb.Add(len(l.Nodes) > 0, "at least one node is required")

	ifaces := make(map[string]map[string]bool, len(l.Nodes))
	labels := make(map[string]bool, len(l.Nodes))
	for i, n := range l.Nodes {
		if n.ID == "" {
			vb.AddErrorf("nodes[%d]: id is required", i)
			continue
		}
		if _, dup := ifaces[n.ID]; dup {
			vb.AddErrorf("node %s: duplicate id", n.ID)
			continue
		}
		if n.Label != "" {
			if labels[n.Label] {
				vb.AddErrorf("node %s: duplicate label %q", n.ID, n.Label)
			}
			labels[n.Label] = true
		}
		vb.Add(n.NodeDefinition != "", fmt.Sprintf("node %s: node_definition is required", n.ID))

		ifaces[n.ID] = make(map[string]bool, len(n.Interfaces))
		for _, intf := range n.Interfaces {
			ifaces[n.ID][intf.ID] = true
		}
	}

	for i, link := range l.Links {
		name := link.ID
		if name == "" {
			name = fmt.Sprintf("links[%d]", i)
		}
		for _, end := range [][2]string{{link.N1, link.I1}, {link.N2, link.I2}} {
			nodeIfaces, ok := ifaces[end[0]]
			if !ok {
				vb.AddErrorf("link %s: unknown node %q", name, end[0])
				continue
			}
			if !nodeIfaces[end[1]] {
				vb.AddErrorf("link %s: node %s has no interface %q", name, end[0], end[1])
			}
		}
	}

	return vb.Build()
}

// Appliance returns the first node that is a real device rather than
// connectivity plumbing. The appliance is the device the tests target.
func (l *Lab) Appliance() (*Node, error) {
	for i := range l.Nodes {
		if !infrastructureDefinitions[l.Nodes[i].NodeDefinition] {
			return &l.Nodes[i], nil
		}
	}
	return nil, fmt.Errorf("topology: %w: no appliance node in lab %q", util.ErrNotFound, l.Meta.Title)
}

// NodeDefinitions returns the distinct node definitions, sorted.
func (l *Lab) NodeDefinitions() []string {
	seen := map[string]bool{}
	var defs []string
	for _, n := range l.Nodes {
		if !seen[n.NodeDefinition] {
			seen[n.NodeDefinition] = true
			defs = append(defs, n.NodeDefinition)
		}
	}
	sort.Strings(defs)
	return defs
}
