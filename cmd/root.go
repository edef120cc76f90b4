// Package cmd defines the webharvest CLI.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webharvest",
		Short: "Declarative web data extraction service",
		Long: `webharvest runs declarative extraction jobs: it fetches pages with
politeness controls, extracts structured records with CSS selector schemas,
deduplicates them, and persists the results. Jobs run on demand or on a
recurring schedule.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// Execute runs the CLI, exiting non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
