package mm

import "unsafe"

// Memset sets size bytes at the given virtual address to the supplied value.
// The region is processed one page at a time since consecutive virtual pages
// are not necessarily backed by consecutive physical frames.
func Memset(addr VirtAddr, value byte, size uintptr) {
	for size > 0 {
		chunk := PageSize - addr.Offset()
		if chunk > size {
			chunk = size
		}

		target := unsafe.Slice((*byte)(addr.Pointer()), chunk)

		// Set first element and make log2(chunk) optimized copies
		target[0] = value
		for index := uintptr(1); index < chunk; index *= 2 {
			copy(target[index:], target[:index])
		}

		addr += VirtAddr(chunk)
		size -= chunk
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap.
func Memcopy(src, dst VirtAddr, size uintptr) {
	for size > 0 {
		chunk := PageSize - src.Offset()
		if dstChunk := PageSize - dst.Offset(); dstChunk < chunk {
			chunk = dstChunk
		}
		if chunk > size {
			chunk = size
		}

		copy(
			unsafe.Slice((*byte)(dst.Pointer()), chunk),
			unsafe.Slice((*byte)(src.Pointer()), chunk),
		)

		src += VirtAddr(chunk)
		dst += VirtAddr(chunk)
		size -= chunk
	}
}
