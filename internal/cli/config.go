package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/config"
)

func newConfigCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage tracker configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  tracker config init -o tracker.yaml
  tracker config validate -f tracker.yaml`,
	}

	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", output)
			fmt.Fprintln(out, "\nEdit the file and run with:")
			fmt.Fprintf(out, "  tracker --config %s holdings\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "tracker.yaml", "output config file path")

	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = rc.ConfigPath
			}
			if path == "" {
				return fmt.Errorf("pass -f or --config")
			}
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
			fmt.Fprintf(out, "  Account: %s (%s)\n", cfg.Account.ID, cfg.Account.Currency)
			fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Path)
			fmt.Fprintf(out, "  Remote: %s\n", cfg.Remote.Kind)
			fmt.Fprintf(out, "  Cost basis: %s\n", cfg.Valuation.Method)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&file, "file", "f", "", "path to config file (default --config)")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
