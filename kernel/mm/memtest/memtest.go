//go:build !386

// Package memtest boots the memory management core on an emulated machine so
// that packages layered on top of the paging code can be tested on the host.
package memtest

import (
	"testing"

	"kestrel/kernel/hal/hosted"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Physical layout used by Boot. The boot page directory and table are placed
// right after the kernel image.
const (
	KernelStart = mm.PhysAddr(0x100000)
	KernelEnd   = mm.PhysAddr(0x180000)
	DirPhys     = mm.PhysAddr(0x180000)
	TablePhys   = mm.PhysAddr(0x181000)

	// DefaultRAMSize is the amount of memory installed by Boot when no
	// size is specified.
	DefaultRAMSize = 32 * mm.Mb
)

// Env describes a booted machine.
type Env struct {
	Machine *hosted.Machine

	// Kernel is the page directory returned by the paging bootstrap.
	Kernel vmm.PageDirectory
}

// NewMachine returns an attached machine with ramSize bytes of RAM whose boot
// loader passed cmdLine and a standard PC memory map to the kernel. The boot
// code has identity mapped the first 4MiB. The machine is released when the
// test completes.
func NewMachine(t testing.TB, ramSize mm.Size, cmdLine string) *hosted.Machine {
	t.Helper()

	if ramSize == 0 {
		ramSize = DefaultRAMSize
	}

	m, err := hosted.NewMachine(ramSize)
	require.NoError(t, err)

	pmm.FrameAllocator = pmm.BitmapAllocator{}
	m.Attach()
	m.LoadMultiboot(hosted.MultibootInfo(cmdLine, hosted.StandardMemoryMap(uint64(ramSize))))
	m.BootIdentity(DirPhys, TablePhys)

	t.Cleanup(func() {
		m.LoadMultiboot(nil)
		m.Detach()
		assert.NoError(t, m.Close())
		pmm.FrameAllocator = pmm.BitmapAllocator{}
	})

	return m
}

// Boot returns a machine that has reserved its memory map and completed the
// paging bootstrap.
func Boot(t testing.TB, ramSize mm.Size, cmdLine string) *Env {
	t.Helper()

	m := NewMachine(t, ramSize, cmdLine)
	boot := vmm.NewBootstrap(DirPhys, TablePhys, KernelStart, KernelEnd)
	require.Nil(t, boot.ClaimFootprint())
	pmm.ReserveMemoryMap()

	pd, err := boot.Run()
	require.Nil(t, err)

	return &Env{Machine: m, Kernel: pd}
}

// UsedFrames returns the number of frames currently claimed.
func (e *Env) UsedFrames() uint32 {
	return pmm.FrameAllocator.UsedFrames()
}
