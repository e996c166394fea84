package virsh

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// domainLine matches the id column of `virsh list`; shut-off domains show
// "-" and are skipped.
var domainLine = regexp.MustCompile(`^\s+(\d+)\s`)

// ParseDomainIDs extracts domain ids from `virsh list --all` output.
func ParseDomainIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		if m := domainLine.FindStringSubmatch(line); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids
}

// Domain is the part of a libvirt domain definition cmltest reads.
type Domain struct {
	Name       string            `xml:"name"`
	UUID       string            `xml:"uuid"`
	Interfaces []DomainInterface `xml:"devices>interface"`
}

// DomainInterface is a NIC of a domain.
type DomainInterface struct {
	Type string `xml:"type,attr"`
	MAC  struct {
		Address string `xml:"address,attr"`
	} `xml:"mac"`
}

// ParseDomain decodes `virsh dumpxml` output.
func ParseDomain(data string) (*Domain, error) {
	var d Domain
	if err := xml.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("virsh: parse domain xml: %w", err)
	}
	return &d, nil
}

// MACs returns the MAC addresses of all interfaces, lower-cased.
func (d *Domain) MACs() []string {
	macs := make([]string, 0, len(d.Interfaces))
	for _, intf := range d.Interfaces {
		if intf.MAC.Address != "" {
			macs = append(macs, strings.ToLower(intf.MAC.Address))
		}
	}
	return macs
}

// Lease is one row of `virsh net-dhcp-leases`.
type Lease struct {
	MAC      string
	Protocol string
	Address  string // without prefix length
	Hostname string
}

// ParseLeases extracts leases from `virsh net-dhcp-leases` output. Rows
// have seven whitespace-separated columns: expiry date, expiry time, MAC,
// protocol, address/prefix, hostname, client id. Header and divider lines
// do not and are skipped.
func ParseLeases(out string) []Lease {
	var leases []Lease
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) != 7 {
			continue
		}
		addr, _, _ := strings.Cut(f[4], "/")
		leases = append(leases, Lease{
			MAC:      strings.ToLower(f[2]),
			Protocol: f[3],
			Address:  addr,
			Hostname: f[5],
		})
	}
	return leases
}

// AddressesFor returns the addresses leased to any of macs, in lease order,
// without duplicates.
func AddressesFor(leases []Lease, macs []string) []string {
	want := make(map[string]bool, len(macs))
	for _, m := range macs {
		want[strings.ToLower(m)] = true
	}
	seen := map[string]bool{}
	var addrs []string
	for _, l := range leases {
		if want[l.MAC] && !seen[l.Address] {
			seen[l.Address] = true
			addrs = append(addrs, l.Address)
		}
	}
	return addrs
}
