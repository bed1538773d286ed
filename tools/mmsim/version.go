//go:build !386

package main

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printInfo(cmd, "mmsim %s\n", version)
		printInfo(cmd, "  commit: %s\n", commit)
		printInfo(cmd, "  built: %s\n", date)
		printInfo(cmd, "  scenario schema: %s\n", SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
