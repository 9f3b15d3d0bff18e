package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "tracker",
		Short:         "Tracker: offline-first portfolio journal, sync and valuation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global / persistent flags
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "SQLite journal database (overrides store.path)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&rc.EnvFile, "env-file", "", "dotenv file with TRACKER_* overrides (default .env)")

	cmd.AddCommand(
		newAddCmd(rc),
		newIngestCmd(rc),
		newSyncCmd(rc),
		newHoldingsCmd(rc),
		newValueCmd(rc),
		newReturnsCmd(rc),
		newConflictsCmd(rc),
		newLogCmd(rc),
		newPurgeCmd(rc),
		newServeCmd(rc),
		newDemoCmd(),
		newConfigCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracker (%s)\n", version)
		},
	})

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
