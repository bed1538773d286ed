package proc

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/zone"
)

var (
	errTooManyMappings = &kernel.Error{Module: "proc", Message: "too many anonymous mappings", Kind: kernel.KindOutOfMemory}
	errNoMapping       = &kernel.Error{Module: "proc", Message: "address does not start an anonymous mapping", Kind: kernel.KindInvalidMapping}
)

// Mmap maps an anonymous region of size bytes in the process address space
// and returns its address. If addr is 0 the region is placed at the first
// free range of the user window. Errors are returned to the caller.
func (p *Process) Mmap(addr mm.VirtAddr, size uintptr, flags zone.Flag) (mm.VirtAddr, *kernel.Error) {
	slot := -1
	for index := range p.mappings {
		if !p.mappings[index].Mapped() {
			slot = index
			break
		}
	}

	if slot == -1 {
		return 0, errTooManyMappings
	}

	z, err := zone.InitAnonymous(p.Dir, addr, size, flags|zone.FlagUser)
	if err != nil {
		kfmt.Printf("[proc] mmap of %d bytes for process %d failed: %s\n", size, uint32(p.PID), err.Message)
		return 0, err
	}

	p.mappings[slot] = z
	return z.Offset, nil
}

// Munmap releases the anonymous mapping that starts at addr.
func (p *Process) Munmap(addr mm.VirtAddr) *kernel.Error {
	for index := range p.mappings {
		if p.mappings[index].Mapped() && p.mappings[index].Offset == addr {
			p.mappings[index].Destroy()
			return nil
		}
	}
	return errNoMapping
}

// VisitMappings invokes visitor for each anonymous mapping of the process.
func (p *Process) VisitMappings(visitor func(*zone.Zone) bool) {
	for index := range p.mappings {
		if p.mappings[index].Mapped() && !visitor(&p.mappings[index]) {
			return
		}
	}
}
