package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netlab-ci/cmltest/pkg/cli"
	"github.com/netlab-ci/cmltest/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings stored in ~/.cmltest/settings.json.

Settings provide defaults for flags that are not given:
  lab       --cml-lab
  tests     --integration-tests-path
  config    --cml-config
  env-file  --env-file

Examples:
  cmltest settings show
  cmltest settings set lab labs/ios.yaml
  cmltest settings set tests tests/integration/targets
  cmltest settings clear`,
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd(), newSettingsClearCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Settings file: %s\n\n", settings.DefaultSettingsPath())

			t := cli.NewTableTo(out, "SETTING", "VALUE")
			for _, key := range settings.Keys {
				value := s.Get(key)
				if value == "" {
					value = "(not set)"
				}
				t.Row(key, value)
			}
			t.Flush()
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <setting> <value>",
		Short: "Set a setting value",
		Long: `Set a persistent setting. Paths are stored as absolute paths; an empty
value unsets the setting.

  cmltest settings set lab labs/ios.yaml
  cmltest settings set env-file ''`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			if err := s.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], s.Get(args[0]))
			return nil
		},
	}
}

func newSettingsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Reset all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			s.Clear()
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings cleared")
			return nil
		},
	}
}
