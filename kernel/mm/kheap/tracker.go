package kheap

import "kestrel/kernel"

var (
	errLeak     = &kernel.Error{Module: "kheap", Message: "allocations were not released", Kind: kernel.KindLeak}
	errOverFree = &kernel.Error{Module: "kheap", Message: "more memory was released than allocated", Kind: kernel.KindOverFree}

	// stats is shared by every heap allocator.
	stats Stats
)

// Stats holds the global heap allocation counters.
type Stats struct {
	Allocs     uint64
	AllocBytes uint64
	Frees      uint64
	FreeBytes  uint64
}

// Outstanding returns the number of bytes allocated but not yet released.
func (s Stats) Outstanding() int64 {
	return int64(s.AllocBytes) - int64(s.FreeBytes)
}

func (s *Stats) recordAlloc(size uintptr) {
	s.Allocs++
	s.AllocBytes += uint64(size)
}

func (s *Stats) recordFree(size uintptr) {
	s.Frees++
	s.FreeBytes += uint64(size)
}

// Snapshot returns a copy of the global heap counters.
func Snapshot() Stats {
	return stats
}

// CheckLeaks compares two snapshots taken before and after a sequence of
// operations that is expected to release everything it allocates. It returns
// an error if the sequence leaked memory or released more than it allocated.
func CheckLeaks(before, after Stats) *kernel.Error {
	var (
		allocs     = after.Allocs - before.Allocs
		allocBytes = after.AllocBytes - before.AllocBytes
		frees      = after.Frees - before.Frees
		freeBytes  = after.FreeBytes - before.FreeBytes
	)

	switch {
	case freeBytes > allocBytes || frees > allocs:
		return errOverFree
	case allocBytes > freeBytes || allocs > frees:
		return errLeak
	}

	return nil
}
