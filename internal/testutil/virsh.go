package testutil

import (
	"fmt"
	"strings"
)

// ServeVirsh makes s answer the virsh commands a lab driver issues as if
// it were the host of c: one running domain tagged with every lab c holds,
// with a single NIC leased address on the default network.
func ServeVirsh(s *FakeSSH, c *FakeCML, mac, address string) {
	s.SetOutput("sudo virsh list --all", " Id   Name         State\n"+
		"----------------------------\n"+
		" 1    appliance   running\n")
	s.Handle("sudo virsh dumpxml 1", func() ExecResult {
		var tags strings.Builder
		for _, id := range c.LabIDs() {
			fmt.Fprintf(&tags, "<cml:lab>%s</cml:lab>", id)
		}
		return ExecResult{Stdout: fmt.Sprintf(`<domain type='kvm'>
  <name>appliance</name>
  <metadata xmlns:cml="http://cisco.com/cml">%s</metadata>
  <devices>
    <interface type='network'><mac address='%s'/><source network='default'/></interface>
  </devices>
</domain>`, tags.String(), mac)}
	})
	s.SetOutput("sudo virsh net-dhcp-leases default", fmt.Sprintf(
		" Expiry Time           MAC address         Protocol   IP address        Hostname   Client ID or DUID\n"+
			"---------------------------------------------------------------------------------------------\n"+
			" 2026-10-15 10:21:03   %s   ipv4       %s/24   appliance  01:%s\n", mac, address, mac))
}
