package vmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// flagLetters lists the letter printed for each flag, most significant
// first, matching the conventional "DAGUXWRV" rendering.
var flagLetters = [8]byte{'D', 'A', 'G', 'U', 'X', 'W', 'R', 'V'}

// Format renders the eight hardware flags into buf using '_' for cleared
// bits and returns buf as a slice. It does not allocate.
func (f PageTableEntryFlag) Format(buf *[8]byte) []byte {
	for i := range flagLetters {
		if f&(1<<(7-i)) != 0 {
			buf[i] = flagLetters[i]
		} else {
			buf[i] = '_'
		}
	}
	return buf[:]
}

// String implements fmt.Stringer.
func (f PageTableEntryFlag) String() string {
	var buf [8]byte
	return string(f.Format(&buf))
}

// PageTableEntry describes an Sv39 page table entry. Bits 0-7 hold the
// hardware flags, bits 8-9 are reserved for software and bits 10-53 hold the
// physical page number.
type PageTableEntry uintptr

// NewEntry returns an entry pointing to frame with the supplied flags.
func NewEntry(frame mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	var pte PageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	return pte
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns the flag bits of this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(pte) & flagMask
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePPNMask) >> ptePPNShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePPNMask) | (uintptr(frame)<<ptePPNShift)&ptePPNMask)
}

// Valid reports whether the MMU will consider this entry.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// IsLeaf reports whether this entry maps memory rather than pointing to the
// next level table. Any of R, W or X makes an entry a leaf.
func (pte PageTableEntry) IsLeaf() bool {
	return pte.HasAnyFlag(FlagRead | FlagWrite | FlagExec)
}
