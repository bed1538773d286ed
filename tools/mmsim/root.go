//go:build !386

package main

import (
	"fmt"
	"io"
	"os"

	"kestrel/kernel/kfmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// Global flags
	verbose bool
	ramFlag string
	cmdLine string
)

var rootCmd = &cobra.Command{
	Use:   "mmsim",
	Short: "Run the kestrel memory manager on an emulated machine",
	Long: `mmsim boots the kestrel physical allocator, paging code, kernel heaps and
process table on an emulated 32-bit machine. It can run YAML allocation
scenarios, check them for heap leaks and render the physical frame bitmap.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			kfmt.SetOutputSink(cmd.ErrOrStderr())
		} else {
			kfmt.SetOutputSink(io.Discard)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print kernel log output to stderr")
	rootCmd.PersistentFlags().StringVar(&ramFlag, "ram", "32M", "Installed RAM (e.g. 16M, 65536K)")
	rootCmd.PersistentFlags().StringVar(&cmdLine, "cmdline", "", "Boot command line passed to the kernel")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printer formats numbers with thousands separators.
var printer = message.NewPrinter(language.English)

// printInfo prints a message to the command output.
func printInfo(cmd *cobra.Command, format string, args ...interface{}) {
	printer.Fprintf(cmd.OutOrStdout(), format, args...)
}
