//go:build !386

// Package hosted emulates the parts of an i386 machine that the memory
// manager depends on so that kernel packages can run as ordinary processes.
// Physical memory is a host memory block; the emulated MMU walks the 2-level
// page tables stored in it and caches translations in a TLB that is only
// invalidated by FlushTLBEntry and SwitchPDT, exactly like the real thing.
package hosted

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"kestrel/kernel/cpu"
	"kestrel/kernel/mm"
)

const (
	entryPresent  = 1 << 0
	entryRW       = 1 << 1
	entryAddrMask = 0xfffff000
)

// PageFault is raised (via panic) when the emulated MMU cannot translate an
// address.
type PageFault struct {
	Addr   mm.VirtAddr
	Reason string
}

// Error implements the error interface.
func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault at 0x%08x: %s", uintptr(f.Addr), f.Reason)
}

// Machine is an emulated single-CPU machine. It implements cpu.Machine.
type Machine struct {
	ram  []byte
	cr3  uint32
	intr bool

	// tlb caches virtual page number to physical frame translations.
	tlb map[uintptr]uint32

	halts           int
	onHalt          func()
	onInterruptFlag func(enabled bool)
	multiboot       []byte
	tlbFlushes      int
}

// NewMachine returns a machine with ramSize bytes of physical memory.
func NewMachine(ramSize mm.Size) (*Machine, error) {
	if ramSize == 0 || ramSize > 4*mm.Gb || uint64(ramSize)%uint64(mm.PageSize) != 0 {
		return nil, fmt.Errorf("hosted: invalid RAM size %d", ramSize)
	}

	ram, err := allocRAM(int(ramSize))
	if err != nil {
		return nil, fmt.Errorf("hosted: allocating RAM: %w", err)
	}

	return &Machine{ram: ram, tlb: make(map[uintptr]uint32)}, nil
}

// Close releases the machine memory. The machine must be detached first.
func (m *Machine) Close() error {
	if m.ram == nil {
		return nil
	}

	err := freeRAM(m.ram)
	m.ram = nil
	return err
}

// Attach routes the cpu package primitives and the mm address translation to
// this machine.
func (m *Machine) Attach() {
	cpu.Attach(m)
	mm.SetAddressTranslator(m.translate)
}

// Detach restores the default cpu primitives and address translation.
func (m *Machine) Detach() {
	cpu.Attach(nil)
	mm.SetAddressTranslator(nil)
}

// RAMSize returns the size of the emulated physical memory.
func (m *Machine) RAMSize() mm.Size {
	return mm.Size(len(m.ram))
}

// EnableInterrupts implements cpu.Machine.
func (m *Machine) EnableInterrupts() { m.setInterruptFlag(true) }

// DisableInterrupts implements cpu.Machine.
func (m *Machine) DisableInterrupts() { m.setInterruptFlag(false) }

func (m *Machine) setInterruptFlag(enabled bool) {
	m.intr = enabled
	if m.onInterruptFlag != nil {
		m.onInterruptFlag(enabled)
	}
}

// OnInterruptFlag registers a callback that is invoked every time the
// interrupt flag is set or cleared.
func (m *Machine) OnInterruptFlag(fn func(enabled bool)) {
	m.onInterruptFlag = fn
}

// InterruptsEnabled implements cpu.Machine.
func (m *Machine) InterruptsEnabled() bool { return m.intr }

// Halt implements cpu.Machine. It invokes the callback registered with
// OnHalt, if any, and returns.
func (m *Machine) Halt() {
	m.halts++
	if m.onHalt != nil {
		m.onHalt()
	}
}

// OnHalt registers a callback for Halt.
func (m *Machine) OnHalt(fn func()) {
	m.onHalt = fn
}

// Halts returns the number of times the CPU was halted.
func (m *Machine) Halts() int {
	return m.halts
}

// FlushTLBEntry implements cpu.Machine.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	delete(m.tlb, virtAddr>>mm.PageShift)
}

// SwitchPDT implements cpu.Machine. Loading CR3 flushes the TLB.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.cr3 = uint32(pdtPhysAddr) & entryAddrMask
	clear(m.tlb)
	m.tlbFlushes++
}

// ActivePDT implements cpu.Machine.
func (m *Machine) ActivePDT() uintptr {
	return uintptr(m.cr3)
}

// TLBFlushes returns the number of full TLB flushes caused by CR3 reloads.
func (m *Machine) TLBFlushes() int {
	return m.tlbFlushes
}

// PagingEnabled returns true once a page directory has been loaded.
func (m *Machine) PagingEnabled() bool {
	return m.cr3 != 0
}

// ReadPhys32 returns the 32-bit little-endian value at physAddr.
func (m *Machine) ReadPhys32(physAddr mm.PhysAddr) uint32 {
	return binary.LittleEndian.Uint32(m.ram[physAddr:])
}

// WritePhys32 stores a 32-bit little-endian value at physAddr.
func (m *Machine) WritePhys32(physAddr mm.PhysAddr, value uint32) {
	binary.LittleEndian.PutUint32(m.ram[physAddr:], value)
}

// PhysBytes returns a slice aliasing size bytes of physical memory.
func (m *Machine) PhysBytes(physAddr mm.PhysAddr, size int) []byte {
	return m.ram[physAddr : int(physAddr)+size]
}

// Translate walks the active page tables without consulting or filling the
// TLB. It returns false if virtAddr is not mapped.
func (m *Machine) Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, bool) {
	frame, reason := m.walk(virtAddr)
	if reason != "" {
		return 0, false
	}
	return mm.PhysAddr(frame) + mm.PhysAddr(virtAddr.Offset()), true
}

// BootIdentity installs the paging structures set up by the boot code: the
// page table at tablePhys identity maps the first 4MiB of physical memory and
// is referenced by entry 0 of the page directory at dirPhys, which is then
// loaded into CR3.
func (m *Machine) BootIdentity(dirPhys, tablePhys mm.PhysAddr) {
	clear(m.ram[dirPhys : dirPhys+mm.PhysAddr(mm.PageSize)])
	for index := uint32(0); index < 1024; index++ {
		m.WritePhys32(tablePhys+mm.PhysAddr(index<<2), index<<mm.PageShift|entryPresent|entryRW)
	}
	m.WritePhys32(dirPhys, uint32(tablePhys)|entryPresent|entryRW)
	m.SwitchPDT(uintptr(dirPhys))
}

// walk performs the 2-level page table walk for virtAddr. It returns the
// physical address of the frame or a non-empty reason on failure.
func (m *Machine) walk(virtAddr mm.VirtAddr) (uint32, string) {
	if uint64(virtAddr) > 0xffffffff {
		return 0, "address outside of the 32-bit address space"
	}

	addr := uint32(virtAddr)
	pde := m.ReadPhys32(mm.PhysAddr(m.cr3 + (addr>>22)<<2))
	if pde&entryPresent == 0 {
		return 0, "page directory entry not present"
	}

	pte := m.ReadPhys32(mm.PhysAddr(pde&entryAddrMask + ((addr>>12)&1023)<<2))
	if pte&entryPresent == 0 {
		return 0, "page table entry not present"
	}

	return pte & entryAddrMask, ""
}

// translate implements mm.AddressTranslatorFn.
func (m *Machine) translate(virtAddr mm.VirtAddr) unsafe.Pointer {
	var physAddr uint64

	switch {
	case m.cr3 == 0:
		physAddr = uint64(virtAddr)
	default:
		page := uintptr(virtAddr) >> mm.PageShift
		frame, cached := m.tlb[page]
		if !cached {
			var reason string
			if frame, reason = m.walk(virtAddr); reason != "" {
				panic(&PageFault{Addr: virtAddr, Reason: reason})
			}
			m.tlb[page] = frame
		}
		physAddr = uint64(frame) + uint64(virtAddr.Offset())
	}

	if physAddr >= uint64(len(m.ram)) {
		panic(&PageFault{Addr: virtAddr, Reason: "physical address outside of RAM"})
	}

	return unsafe.Pointer(&m.ram[physAddr])
}
