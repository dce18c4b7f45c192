package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "calltrace",
	Short: "calltrace tracks and streams the run state of executing programs",
	Long: `calltrace records which parts of a program ran, are running or were skipped,
answers point queries about any position of its execution tree and streams
drill-down updates to any number of viewers.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default calltrace.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().String("log-json", "", "Also write JSON logs to this file (overrides config)")
	rootCmd.PersistentFlags().String("redis", "", "Publish updates to this Redis address (overrides config)")
}
