//go:build !386

package hosted

import (
	"encoding/binary"
	"unsafe"

	"kestrel/kernel/multiboot"
)

const (
	tagEnd        = 0
	tagCmdLine    = 1
	tagMemoryMap  = 6
	mmapEntrySize = 24
)

// Region describes a memory map entry reported by the emulated boot loader.
type Region struct {
	Base   uint64
	Length uint64
	Type   multiboot.MemoryEntryType
}

// MultibootInfo assembles a multiboot2 information block with a boot command
// line tag (if cmdLine is not empty) and a memory map tag.
func MultibootInfo(cmdLine string, regions []Region) []byte {
	buf := make([]byte, 8)

	appendTag := func(typ uint32, payload []byte) {
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:], typ)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(hdr)+len(payload)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, payload...)
		for len(buf)%8 != 0 {
			buf = append(buf, 0)
		}
	}

	if cmdLine != "" {
		appendTag(tagCmdLine, append([]byte(cmdLine), 0))
	}

	if len(regions) != 0 {
		payload := make([]byte, 8+mmapEntrySize*len(regions))
		binary.LittleEndian.PutUint32(payload[0:], mmapEntrySize)
		for index, region := range regions {
			entry := payload[8+mmapEntrySize*index:]
			binary.LittleEndian.PutUint64(entry[0:], region.Base)
			binary.LittleEndian.PutUint64(entry[8:], region.Length)
			binary.LittleEndian.PutUint32(entry[16:], uint32(region.Type))
		}
		appendTag(tagMemoryMap, payload)
	}

	appendTag(tagEnd, nil)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)))
	return buf
}

// LoadMultiboot hands info to the multiboot package as if the boot loader
// had passed it to the kernel. The machine keeps a reference to the block
// for as long as it is in use.
func (m *Machine) LoadMultiboot(info []byte) {
	m.multiboot = info
	if len(info) == 0 {
		multiboot.SetInfoPtr(0)
		return
	}
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
}

// MultibootInfoPtr returns the address of the multiboot info block loaded
// with LoadMultiboot or 0 if none is loaded.
func (m *Machine) MultibootInfoPtr() uintptr {
	if len(m.multiboot) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.multiboot[0]))
}

// StandardMemoryMap returns the memory map of a PC with ramSize bytes of RAM:
// conventional memory below 640KiB, the BIOS/VGA hole and extended memory
// from 1MiB to the end of RAM.
func StandardMemoryMap(ramSize uint64) []Region {
	return []Region{
		{Base: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
		{Base: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
		{Base: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
		{Base: 0x100000, Length: ramSize - 0x100000, Type: multiboot.MemAvailable},
	}
}
