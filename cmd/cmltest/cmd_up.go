package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/cli"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

func newUpCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring the lab up and print how to reach the appliance",
		Long: `Import the topology (or reuse a lab with the same title), start it, wait
for convergence and discover the appliance address on the CML host.

The lab stays up until 'cmltest down'. A lab that fails to come up is
removed again unless CMLTEST_KEEP_LAB is set.

  cmltest up -l lab.yaml -t tests/integration/targets
  cmltest up --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := resolveOptions(opts)
			cfg, err := config.Resolve(o)
			if err != nil {
				return err
			}
			desc, err := lab.NewDescriptor(cfg)
			if err != nil {
				return err
			}
			driver, err := lab.NewDriver(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Bringing up lab %s...\n", desc.Topology.Title())
			conn, err := driver.EnsureUp(ctx, desc)
			if err != nil {
				return err
			}

			state := &lab.State{
				LabID:      conn.LabID,
				Title:      conn.LabTitle,
				Created:    time.Now(),
				LabFile:    cfg.LabFile,
				TestsPath:  cfg.TestsPath,
				CMLHost:    cfg.CMLHost,
				Reused:     conn.Reused,
				Connection: conn,
			}
			if err := lab.SaveState(state); err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				shown := *conn
				shown.DevicePassword = ""
				return enc.Encode(&shown)
			}
			printConnection(cmd, conn)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func printConnection(cmd *cobra.Command, conn *lab.Connection) {
	out := cmd.OutOrStdout()
	mark := green("✓")
	if conn.Reused {
		mark = yellow("✓")
	}
	fmt.Fprintf(out, "%s Lab %s (%s) ready in %s\n\n", mark, cli.Bold(conn.LabTitle), conn.LabID, conn.ProvisionTime.Round(time.Second))

	serviceTable(out, conn)
	fmt.Fprintf(out, "\nDevice login: %s / %s\n", conn.DeviceUser, cli.Mask(conn.DevicePassword))

	if conn.Reused {
		fmt.Fprintf(out, "\nLab %s existed before; 'cmltest down' leaves it running.\n", conn.LabID)
	}
}

func serviceTable(out io.Writer, c *lab.Connection) {
	t := cli.NewTableTo(out, "SERVICE", "ADDRESS")
	t.Row("appliance", c.Address)
	t.Row("ssh", fmt.Sprintf("%s:%d", c.Host, c.SSHPort))
	t.Row("netconf", fmt.Sprintf("%s:%d", c.Host, c.NetconfPort))
	t.Row("https", fmt.Sprintf("%s:%d", c.Host, c.HTTPSPort))
	t.Row("http", fmt.Sprintf("%s:%d", c.Host, c.HTTPPort))
	t.Flush()
}
