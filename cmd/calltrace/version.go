package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/calltrace"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of calltrace",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "calltrace version %s\n", strings.TrimSpace(calltrace.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
