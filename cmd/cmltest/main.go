// cmltest brings a CML lab up for network integration tests, outside of
// `go test`, and manages the labs it left running.
//
// Usage:
//
//	cmltest up -l lab.yaml -t tests/integration/targets   Import, start and discover the lab
//	cmltest status [lab-id]                                Show labs started by cmltest
//	cmltest inventory [lab-id]                             Print the ansible inventory
//	cmltest roles -t tests/integration/targets             List integration roles
//	cmltest down [lab-id]                                  Stop, wipe and delete the lab
//	cmltest settings show|set|clear                        Manage persistent defaults
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/cli"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/settings"
	"github.com/netlab-ci/cmltest/pkg/util"
	"github.com/netlab-ci/cmltest/pkg/version"
)

var (
	opts    config.Options
	verbose bool
	logJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "cmltest",
	Short:             "CML lab lifecycle for network integration tests",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `cmltest imports a CML topology, waits for the appliance to come up and
prints how to reach it, the same way the go test harness does before a
test run.

Controller and host credentials come from VIRL_HOST, VIRL_USERNAME,
VIRL_PASSWORD, CML_SSH_USER, CML_SSH_PASSWORD and CML_SSH_PORT, or from
--env-file / --cml-config.

  cmltest up -l lab.yaml -t tests/integration/targets`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

func init() {
	config.BindPFlags(rootCmd.PersistentFlags(), &opts)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON lines")

	rootCmd.AddCommand(
		newUpCmd(),
		newDownCmd(),
		newStatusCmd(),
		newInventoryCmd(),
		newRolesCmd(),
		newSettingsCmd(),
		newVersionCmd(),
	)
}

// resolveOptions fills unset flags from the persistent settings.
func resolveOptions(o config.Options) config.Options {
	s, err := settings.Load()
	if err != nil {
		util.Warnf("ignoring settings: %v", err)
		return o
	}
	if o.LabFile == "" {
		o.LabFile = s.LabFile
	}
	if o.TestsPath == "" {
		o.TestsPath = s.TestsPath
	}
	if o.ConfigFile == "" {
		o.ConfigFile = s.ConfigFile
	}
	if o.EnvFile == "" {
		o.EnvFile = s.EnvFile
	}
	return o
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("cmltest"))
		},
	}
}

func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
