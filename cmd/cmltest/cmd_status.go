package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/cli"
	"github.com/netlab-ci/cmltest/pkg/cml"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

type labStatus struct {
	*lab.State
	Live string `json:"live_state"`
}

func newStatusCmd() *cobra.Command {
	var (
		jsonOut bool
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "status [lab-id]",
		Short: "Show labs started with 'cmltest up'",
		Long: `Show recorded labs and their state on the controller.

Without arguments, lists every recorded lab. With a lab id, shows the
appliance details for that lab. --offline skips the controller query.

  cmltest status
  cmltest status 9fde01
  cmltest status --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if len(ids) == 0 {
				var err error
				if ids, err = lab.ListStates(); err != nil {
					return err
				}
			}

			var labs []labStatus
			for _, id := range ids {
				state, err := lab.LoadState(id)
				if err != nil {
					if len(args) > 0 {
						return err
					}
					continue
				}
				ls := labStatus{State: state, Live: "unknown"}
				if !offline {
					ls.Live = liveState(cmd.Context(), state)
				}
				labs = append(labs, ls)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if labs == nil {
					labs = []labStatus{}
				}
				return json.NewEncoder(out).Encode(labs)
			}
			if len(labs) == 0 {
				fmt.Fprintln(out, "no labs recorded")
				return nil
			}

			if len(args) > 0 {
				showLabDetail(cmd, labs[0])
				return nil
			}
			t := cli.NewTableTo(out, "LAB", "TITLE", "STATE", "APPLIANCE", "SSH", "CREATED")
			for _, ls := range labs {
				appliance, ssh := "-", "-"
				if c := ls.Connection; c != nil {
					appliance = c.Address
					ssh = fmt.Sprintf("%s:%d", c.Host, c.SSHPort)
				}
				t.Row(ls.LabID, ls.Title, cli.LabState(ls.Live), appliance, ssh, ls.Created.Format("2006-01-02 15:04"))
			}
			t.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	cmd.Flags().BoolVar(&offline, "offline", false, "do not query the controller")
	return cmd
}

// liveState asks the controller for the lab's state. "missing" means the
// controller no longer has the lab; "unknown" that it could not be asked.
func liveState(ctx context.Context, state *lab.State) string {
	cfg, err := config.Resolve(stateOptions(resolveOptions(opts), state))
	if err != nil {
		return "unknown"
	}
	client, err := cml.NewClient(cfg.CMLHost, cfg.CMLUser, cfg.CMLPassword, cfg.VerifyCert)
	if err != nil {
		return "unknown"
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s, err := client.LabState(ctx, state.LabID)
	switch {
	case cml.IsNotFound(err):
		return "missing"
	case err != nil:
		return "unknown"
	}
	return s
}

func showLabDetail(cmd *cobra.Command, ls labStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Lab: %s (%s), %s\n", cli.Bold(ls.Title), ls.LabID, cli.LabState(ls.Live))
	fmt.Fprintf(out, "Created: %s\n", ls.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Lab file: %s\n", ls.LabFile)
	if ls.Reused {
		fmt.Fprintf(out, "Reused: %s\n", yellow("yes, not removed by 'cmltest down'"))
	}
	c := ls.Connection
	if c == nil {
		return
	}
	fmt.Fprintln(out)
	serviceTable(out, c)
}
