package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "metalpulse",
	Short: "MetalPulse - metals quote ingestion and aggregation service",
	Long: `MetalPulse Unified CLI

Polls upstream metal quote feeds during market hours, deduplicates and
persists observations, and serves session-bounded aggregates over HTTP.

Usage:
  go run ./cmd/metalpulse [command]

Examples:
  go run ./cmd/metalpulse serve
  go run ./cmd/metalpulse ingest run
  go run ./cmd/metalpulse aggregate --instrument aluminum
  go run ./cmd/metalpulse migrate`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
