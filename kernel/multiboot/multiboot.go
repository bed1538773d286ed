// Package multiboot decodes the subset of the multiboot2 information block
// that the memory manager consumes: the physical memory map and the boot
// command line. Nothing in this package allocates.
package multiboot

import "unsafe"

// infoPtr holds the address of the information block. A zero value means
// that no block is available and every lookup comes back empty.
var infoPtr uintptr

// tagKind identifies a multiboot2 tag. Only the kinds this package looks
// for are listed.
type tagKind uint32

const (
	tagEnd       tagKind = 0
	tagCmdLine   tagKind = 1
	tagMemoryMap tagKind = 6
)

// The fixed header of the information block (total size + reserved) and of
// each tag (kind + size) are both 8 bytes long.
const (
	infoHeaderLen = 8
	tagHeaderLen  = 8
	tagAlign      = 8

	// the memory map payload starts with the entry size and entry version.
	mmapHeaderLen = 8
)

// MemoryEntryType classifies a region of the physical memory map.
type MemoryEntryType uint32

const (
	// MemAvailable marks RAM that the kernel is free to use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved marks memory that must never be handed out.
	MemReserved

	// MemAcpiReclaimable marks ACPI tables that may be reused once parsed.
	MemAcpiReclaimable

	// MemNvs marks memory that has to survive hibernation.
	MemNvs

	// types from this value onwards are reported as MemReserved.
	memFirstUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	}
	return "unknown"
}

// MemoryMapEntry is a single region of the memory map as laid out by the
// boot loader.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor receives the entries of the memory map in the order the
// boot loader supplied them. Returning false stops the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// CmdLineVisitor receives the key/value pairs of the boot command line.
// Bare flags such as "quiet" are reported with the key as their value.
// Returning false stops the scan.
type CmdLineVisitor func(key, value string) bool

// SetInfoPtr sets the address of the information block passed in by the
// boot loader. It must be called before any other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoPtr = ptr
}

// VisitMemRegions invokes visitor for each entry of the memory map. Entries
// with a type that the kernel does not recognise are rewritten as
// MemReserved before being visited.
func VisitMemRegions(visitor MemRegionVisitor) {
	payload, length := lookupTag(tagMemoryMap)
	if length < mmapHeaderLen {
		return
	}

	entrySize := uintptr(*(*uint32)(unsafe.Pointer(payload)))
	if entrySize == 0 {
		return
	}

	for off := uintptr(mmapHeaderLen); off+entrySize <= uintptr(length); off += entrySize {
		entry := (*MemoryMapEntry)(unsafe.Pointer(payload + off))
		if entry.Type == 0 || entry.Type >= memFirstUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// VisitBootCmdLine splits the boot command line on whitespace and invokes
// visitor for each key=value pair. The strings handed to visitor alias the
// information block.
func VisitBootCmdLine(visitor CmdLineVisitor) {
	payload, length := lookupTag(tagCmdLine)
	if length == 0 {
		return
	}

	line := unsafe.String((*byte)(unsafe.Pointer(payload)), int(length))
	if nul := indexByte(line, 0); nul >= 0 {
		line = line[:nul]
	}

	for len(line) > 0 {
		var word string
		word, line = nextWord(line)
		if word == "" {
			return
		}

		key, value := word, word
		if eq := indexByte(word, '='); eq >= 0 {
			key, value = word[:eq], word[eq+1:]
		}

		if !visitor(key, value) {
			return
		}
	}
}

// BootCmdLineValue returns the value of the first occurrence of key in the
// boot command line.
func BootCmdLineValue(key string) (value string, found bool) {
	VisitBootCmdLine(func(k, v string) bool {
		if k != key {
			return true
		}
		value, found = v, true
		return false
	})
	return value, found
}

// nextWord skips leading whitespace and returns the first word of s along
// with the remainder of the string.
func nextWord(s string) (string, string) {
	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}

	end := start
	for end < len(s) && !isSpace(s[end]) {
		end++
	}

	return s[start:end], s[end:]
}

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func indexByte(s string, ch byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ch {
			return i
		}
	}
	return -1
}

// lookupTag walks the tag list and returns the address and length of the
// payload of the first tag of the requested kind, or (0, 0) if the block
// does not contain one. The walk never goes past the total size recorded in
// the block header, even if the end tag is missing.
func lookupTag(kind tagKind) (uintptr, uint32) {
	if infoPtr == 0 {
		return 0, 0
	}

	end := infoPtr + uintptr(*(*uint32)(unsafe.Pointer(infoPtr)))
	for ptr := infoPtr + infoHeaderLen; ptr+tagHeaderLen <= end; {
		hdrKind := *(*tagKind)(unsafe.Pointer(ptr))
		hdrSize := *(*uint32)(unsafe.Pointer(ptr + 4))

		switch {
		case hdrKind == tagEnd || hdrSize < tagHeaderLen || ptr+uintptr(hdrSize) > end:
			return 0, 0
		case hdrKind == kind:
			return ptr + tagHeaderLen, hdrSize - tagHeaderLen
		}

		ptr += (uintptr(hdrSize) + tagAlign - 1) &^ (tagAlign - 1)
	}

	return 0, 0
}
