package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/ansible"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

func newInventoryCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "inventory [lab-id]",
		Short: "Print the ansible inventory for a lab",
		Long: `Print the JSON inventory the harness hands to ansible-playbook for a lab
recorded by 'cmltest up'. With --playbook <role>, print the playbook
that runs that role instead.

The device password is not recorded; it is taken from
CMLTEST_DEVICE_PASSWORD or the appliance default.

  cmltest inventory > inventory.json
  cmltest inventory 9fde01 --playbook tests/integration/targets/vlans`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			if role != "" {
				return enc.Encode(ansible.Playbook(role))
			}

			labID, err := resolveLabID(args)
			if err != nil {
				return err
			}
			state, err := lab.LoadState(labID)
			if err != nil {
				return err
			}
			if state.Connection == nil {
				return fmt.Errorf("lab %s has no recorded connection", labID)
			}
			conn := *state.Connection
			conn.DevicePassword = os.Getenv(config.EnvDevicePass)
			if conn.DevicePassword == "" {
				conn.DevicePassword = config.DefaultDevicePassword
			}
			return enc.Encode(ansible.NewInventory(&conn))
		},
	}
	cmd.Flags().StringVar(&role, "playbook", "", "print the playbook for this role path instead")
	return cmd
}
