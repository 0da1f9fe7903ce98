// Package cmd contains the cronguard CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "cronguard",
	Short: "cronguard - dead man's switch for scheduled jobs",
	Long: `cronguard watches cron jobs and other scheduled tasks. Each job pings
its monitor when it runs; monitors that stop pinging go LATE and then DOWN,
open incidents, notify webhooks and can restart the job's container.

Examples:
  # Run the server
  cronguard serve --config config.yaml

  # Print the uptime report of a monitor
  cronguard uptime 3f6c0b6e-... -o yaml

  # Move a JSON file store into SQLite
  cronguard migrate --from data/state.json --to data/cronguard.db`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
}
