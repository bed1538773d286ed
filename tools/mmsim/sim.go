//go:build !386

package main

import (
	"errors"
	"fmt"

	"kestrel/kernel/hal/hosted"
	"kestrel/kernel/kmain"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/proc"
)

// Physical layout of the emulated kernel image and boot paging structures.
const (
	simKernelStart = mm.PhysAddr(0x100000)
	simKernelEnd   = mm.PhysAddr(0x180000)
	simBootDir     = mm.PhysAddr(0x180000)
	simBootTable   = mm.PhysAddr(0x181000)

	minRAMSize = 8 * mm.Mb
)

var errRAMTooSmall = fmt.Errorf("mmsim: at least %d KiB of RAM are required", minRAMSize/mm.Kb)

// simulator is a booted emulated machine.
type simulator struct {
	machine *hosted.Machine
	stage   kmain.ProcessStage

	// frame holds the registers of the interrupted task between ticks.
	frame proc.Registers
}

// parseRAM parses a RAM size flag.
func parseRAM(value string) (mm.Size, error) {
	size, ok := mm.ParseSize(value)
	if !ok {
		return 0, fmt.Errorf("mmsim: invalid RAM size %q", value)
	}

	if size < minRAMSize {
		return 0, errRAMTooSmall
	}

	return mm.Size(mm.PageRoundUp(uintptr(size))), nil
}

// newSimulator creates a machine with ramSize bytes of RAM and boots the
// kernel with the supplied command line. Only one simulator can be active at
// any time.
func newSimulator(ramSize mm.Size, cmdLine string) (*simulator, error) {
	m, err := hosted.NewMachine(ramSize)
	if err != nil {
		return nil, err
	}

	pmm.FrameAllocator = pmm.BitmapAllocator{}
	m.Attach()
	m.LoadMultiboot(hosted.MultibootInfo(cmdLine, hosted.StandardMemoryMap(uint64(ramSize))))
	m.BootIdentity(simBootDir, simBootTable)

	s := &simulator{machine: m}
	stage, kerr := kmain.Boot(kmain.BootInfo{
		MultibootInfoPtr: m.MultibootInfoPtr(),
		KernelStart:      simKernelStart,
		KernelEnd:        simKernelEnd,
		BootDir:          simBootDir,
		BootTable:        simBootTable,
	})
	if kerr != nil {
		return nil, errors.Join(fmt.Errorf("mmsim: boot failed: %w", kerr), s.Close())
	}

	s.stage = stage
	return s, nil
}

// Close detaches the machine and releases its memory.
func (s *simulator) Close() error {
	s.machine.LoadMultiboot(nil)
	s.machine.Detach()
	kheap.KernelHeap = kheap.FreeListAllocator{}
	kheap.KernelPhysHeap = kheap.FreeListAllocator{}
	pmm.FrameAllocator = pmm.BitmapAllocator{}
	return s.machine.Close()
}

// frames returns the number of frames installed and the number of them that
// are currently claimed.
func (s *simulator) frames() (total, used uint32) {
	total = uint32(s.machine.RAMSize() >> mm.PageShift)
	for frame := mm.Frame(0); uint32(frame) < total; frame++ {
		if pmm.IsClaimed(frame.Address()) {
			used++
		}
	}
	return total, used
}

// tick delivers count timer interrupts to the scheduler.
func (s *simulator) tick(count int) {
	for ; count > 0; count-- {
		proc.Tick(&s.frame)
	}
}
