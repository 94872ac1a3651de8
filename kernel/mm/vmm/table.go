package vmm

import "unsafe"

// PageTable is a single 4 KiB table at any level of the Sv39 hierarchy.
type PageTable [EntriesPerTable]PageTableEntry

// TableAt overlays a PageTable on the page-aligned address addr.
func TableAt(addr uintptr) *PageTable {
	return (*PageTable)(unsafe.Pointer(addr))
}

// Index returns the index into the table at the given level (0 is the top
// level) that virtAddr selects.
func Index(level uint8, virtAddr uintptr) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// TopLevelIndex returns the index into the top-level table that virtAddr
// selects. It works for physical addresses too, which is how identity
// mappings are placed.
func TopLevelIndex(virtAddr uintptr) uintptr {
	return Index(0, virtAddr)
}

// LevelSize returns the number of bytes a leaf entry spans at level.
func LevelSize(level uint8) uintptr {
	return uintptr(1) << pageLevelShifts[level]
}

// Canonical sign-extends bit 38 of virtAddr into the upper bits.
func Canonical(virtAddr uintptr) uintptr {
	const shift = 64 - vaBits
	return uintptr(int64(virtAddr<<shift) >> shift)
}

// IsCanonical reports whether virtAddr is a valid Sv39 address.
func IsCanonical(virtAddr uintptr) bool {
	return Canonical(virtAddr) == virtAddr
}

// addrFromIndices rebuilds the canonical virtual address selected by the
// supplied per-level indices.
func addrFromIndices(indices *[pageLevels]uintptr, depth uint8) uintptr {
	var addr uintptr
	for level := uint8(0); level <= depth; level++ {
		addr |= indices[level] << pageLevelShifts[level]
	}
	return Canonical(addr)
}
