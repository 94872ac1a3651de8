//go:build unix

// Package mmtest provides page-aligned scratch memory for tests that need
// allocators and page tables to operate on real addresses.
package mmtest

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Arena maps size bytes of anonymous, zero-filled memory aligned to align
// (which must be a power of two no smaller than the host page size) and
// returns its start address. The mapping is released when the test ends.
func Arena(tb testing.TB, size, align uintptr) uintptr {
	tb.Helper()

	region, err := unix.Mmap(-1, 0, int(size+align), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		tb.Fatalf("mmap arena of %d bytes: %v", size+align, err)
	}
	tb.Cleanup(func() {
		if err := unix.Munmap(region); err != nil {
			tb.Errorf("munmap arena: %v", err)
		}
	})

	base := uintptr(unsafe.Pointer(&region[0]))
	return (base + align - 1) &^ (align - 1)
}

// Bytes returns a byte slice view of size bytes at addr.
func Bytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
