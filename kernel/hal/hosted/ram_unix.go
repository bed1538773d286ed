//go:build !386 && unix

package hosted

import "golang.org/x/sys/unix"

// allocRAM backs the emulated physical memory with an anonymous mapping so
// that it lives outside of the Go heap.
func allocRAM(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freeRAM(ram []byte) error {
	return unix.Munmap(ram)
}
