//go:build !386

package main

import (
	"kestrel/kernel/mm"
	"kestrel/kernel/proc"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Boot the memory manager and print its layout",
		Long: `The boot command boots the kernel on an emulated machine and prints the
boot configuration, the kernel zones and the physical frame usage.

Example:
  mmsim boot --ram 64M --cmdline "kheap=8M coalesce=on"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ramSize, err := parseRAM(ramFlag)
			if err != nil {
				return err
			}

			sim, err := newSimulator(ramSize, cmdLine)
			if err != nil {
				return err
			}
			defer sim.Close()

			printBootReport(cmd, sim)
			return nil
		},
	}
}

func printBootReport(cmd *cobra.Command, sim *simulator) {
	var (
		stage       = sim.stage
		cfg         = stage.Config
		total, used = sim.frames()
	)

	printInfo(cmd, "Boot configuration:\n")
	printInfo(cmd, "  kernel heap:      %d bytes\n", cfg.KernelHeapSize)
	printInfo(cmd, "  kernel phys heap: %d bytes\n", cfg.KernelPhysHeapSize)
	printInfo(cmd, "  kernel stack:     %d bytes\n", cfg.KernelStackSize)
	printInfo(cmd, "  user stack:       %d bytes\n", cfg.UserStackSize)
	printInfo(cmd, "  user heap:        %d bytes\n", cfg.UserHeapSize)
	printInfo(cmd, "  coalescing:       %t\n\n", cfg.Coalesce)

	printInfo(cmd, "Kernel zones:\n")
	for _, z := range []struct {
		name   string
		offset mm.VirtAddr
		top    mm.VirtAddr
		size   uintptr
	}{
		{"heap", stage.KernelHeap.Offset, stage.KernelHeap.Top(), stage.KernelHeap.Size},
		{"phys heap", stage.KernelPhysHeap.Offset, stage.KernelPhysHeap.Top(), stage.KernelPhysHeap.Size},
		{"stack", stage.KernelStack.Offset, stage.KernelStack.Top(), stage.KernelStack.Size},
	} {
		printInfo(cmd, "  %-10s 0x%08x - 0x%08x (%d pages)\n", z.name, uintptr(z.offset), uintptr(z.top), z.size>>mm.PageShift)
	}

	printInfo(cmd, "\nPhysical memory:\n")
	printInfo(cmd, "  frames: %d total, %d used, %d free\n", total, used, total-used)
	printInfo(cmd, "  page directory: 0x%08x\n", uint32(stage.PagingStage.Kernel.Address()))
	printInfo(cmd, "  processes: %d\n", proc.Count())
}
