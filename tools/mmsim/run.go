//go:build !386

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	runWatch      bool
	runAllowLeaks bool
)

// watchDebounce groups the burst of events produced by editors saving a file.
const watchDebounce = 100 * time.Millisecond

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Run the scenario again whenever the file changes")
	cmd.Flags().BoolVar(&runAllowLeaks, "allow-leaks", false, "Do not fail when the scenario leaks heap memory")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run an allocation scenario",
		Long: `The run command boots a fresh machine, executes the steps of a scenario
file and checks that every heap block allocated by the scenario was released.

The machine section of the scenario can be overridden with --ram and
--cmdline.

Example:
  mmsim run scenarios/fragmentation.yaml
  mmsim run --watch scenarios/fragmentation.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !runWatch {
				return runFile(cmd, args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watchFile(ctx, cmd, args[0])
		},
	}
}

// runFile loads a scenario, runs it on a new machine and prints a report.
func runFile(cmd *cobra.Command, path string) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}

	ramValue, cmdLineValue := sc.Machine.RAM, sc.Machine.CmdLine
	if ramValue == "" || cmd.Flags().Changed("ram") {
		ramValue = ramFlag
	}
	if cmd.Flags().Changed("cmdline") {
		cmdLineValue = cmdLine
	}

	ramSize, err := parseRAM(ramValue)
	if err != nil {
		return err
	}

	sim, err := newSimulator(ramSize, cmdLineValue)
	if err != nil {
		return err
	}
	defer sim.Close()

	res, err := runScenario(sim, sc, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	printInfo(cmd, "\nScenario %s: %d steps\n", filepath.Base(path), res.Steps)
	printInfo(cmd, "  processes: %d\n", res.Processes)
	printInfo(cmd, "  frames: %d of %d used\n", res.UsedFrames, res.TotalFrames)
	printInfo(cmd, "  heap: %d allocations (%d bytes), %d releases (%d bytes)\n",
		res.After.Allocs-res.Before.Allocs, res.After.AllocBytes-res.Before.AllocBytes,
		res.After.Frees-res.Before.Frees, res.After.FreeBytes-res.Before.FreeBytes,
	)

	if res.Leak != nil {
		outstanding := res.After.Outstanding() - res.Before.Outstanding()
		if !runAllowLeaks {
			return fmt.Errorf("%s: %w (%d bytes outstanding)", filepath.Base(path), res.Leak, outstanding)
		}
		printInfo(cmd, "  leak check: %s (%d bytes outstanding)\n", res.Leak.Message, outstanding)
		return nil
	}

	printInfo(cmd, "  leak check: ok\n")
	return nil
}

// watchFile runs the scenario and runs it again every time the file is
// written until ctx is cancelled. Scenario failures are reported but do
// not stop the watch.
func watchFile(ctx context.Context, cmd *cobra.Command, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace the file so the parent directory is watched.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	rerun := func() {
		if err := runFile(cmd, path); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
		printInfo(cmd, "\nwatching %s for changes\n", path)
	}
	rerun()

	var (
		target  = filepath.Clean(path)
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case <-pending:
			pending = nil
			rerun()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				continue
			}
			return err
		}
	}
}
