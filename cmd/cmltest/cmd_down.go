package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
)

func newDownCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "down [lab-id]",
		Short: "Stop, wipe and delete a lab started with 'cmltest up'",
		Long: `Tear down a lab recorded by 'cmltest up' and forget its state.

A lab that existed before 'cmltest up' found it is left running unless
--force is given. If only one lab is recorded, the lab id can be omitted.

  cmltest down 9fde01
  cmltest down              # auto-selects if only one lab`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			labID, err := resolveLabID(args)
			if err != nil {
				return err
			}
			state, err := lab.LoadState(labID)
			if err != nil {
				return err
			}

			cfg, err := config.Resolve(stateOptions(resolveOptions(opts), state))
			if err != nil {
				return err
			}
			// an explicit down always removes a lab it created
			cfg.KeepLab = false

			driver, err := lab.NewDriver(cfg)
			if err != nil {
				return err
			}
			reused := state.Reused && !force
			driver.Adopt(labID, reused)

			fmt.Fprintf(cmd.ErrOrStderr(), "Removing lab %s...\n", labID)
			ctx, cancel := teardownContext(cmd.Context())
			defer cancel()
			if err := driver.Teardown(ctx); err != nil {
				return err
			}
			if err := lab.RemoveState(labID); err != nil {
				return fmt.Errorf("remove state: %w", err)
			}

			if reused {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Lab %s was not created by cmltest and is still running (use --force to remove it)\n", yellow("!"), labID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Lab %s removed\n", green("✓"), labID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also remove a lab cmltest did not create")
	return cmd
}

// resolveLabID returns args[0], or the only lab with saved state.
func resolveLabID(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	ids, err := lab.ListStates()
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no labs recorded by 'cmltest up'")
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("multiple labs recorded, specify one: %v", ids)
	}
}

// stateOptions resolves only the controller credentials for a recorded
// lab; its topology file and tests may have moved since 'cmltest up'.
func stateOptions(o config.Options, state *lab.State) config.Options {
	if o.LabFile == "" {
		o.LabFile = state.LabFile
	}
	if o.TestsPath == "" {
		o.TestsPath = state.TestsPath
	}
	o.CredentialsOnly = true
	return o
}

// teardownTimeout bounds `cmltest down`.
const teardownTimeout = 5 * time.Minute

func teardownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, teardownTimeout)
}
