/*
root.go - Root command and shared flags

PURPOSE:
  Defines the leavecredits root command, the --config flag every
  subcommand inherits, and config loading for the subcommands.

SEE ALSO:
  - main.go: Entry point
  - config/config.go: Load
*/
package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/leave-credits/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "leavecredits",
	Short:         "Leave-credit ledger with conversion and reschedule approvals",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
