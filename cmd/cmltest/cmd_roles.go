package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/ansible"
	"github.com/netlab-ci/cmltest/pkg/cli"
)

func newRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the integration roles the harness would run",
		Long: `List the role directories below --integration-tests-path (or the
tests setting), in the order the harness runs them.

  cmltest roles -t tests/integration/targets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := resolveOptions(opts)
			if o.TestsPath == "" {
				return fmt.Errorf("tests path required: use -t <dir> or run 'cmltest settings set tests <dir>'")
			}
			roles, err := ansible.Roles(o.TestsPath)
			if err != nil {
				return err
			}
			if len(roles) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no roles below %s\n", o.TestsPath)
				return nil
			}
			t := cli.NewTableTo(cmd.OutOrStdout(), "ROLE", "PATH")
			for _, r := range roles {
				t.Row(r.Name, r.Path)
			}
			t.Flush()
			return nil
		},
	}
}
