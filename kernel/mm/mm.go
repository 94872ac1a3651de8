// Package mm defines the units shared by the memory management packages.
package mm

import "math/bits"

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// AlignDown rounds addr down to a multiple of align which must be a power
// of two.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to a multiple of align which must be a power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}

// NextPow2 returns the smallest power of two that is >= v. NextPow2(0)
// returns 1.
func NextPow2(v uintptr) uintptr {
	if v <= 1 {
		return 1
	}
	return 1 << (bits.UintSize - bits.LeadingZeros(uint(v-1)))
}

// Log2 returns floor(log2(v)) for v > 0.
func Log2(v uintptr) uint {
	return uint(bits.UintSize-1) - uint(bits.LeadingZeros(uint(v)))
}
