package vmm

import "rvgopher/kernel/mm"

// PageManager is the capability an AddressSpace uses to obtain, share and
// release the physical frames behind its tables and mappings. Every entry
// passed in or returned describes a run of pages contiguous frames starting
// at the entry's frame.
type PageManager interface {
	// Allocate reserves pages zero-filled contiguous frames and returns an
	// entry pointing at the first one with flags (plus FlagValid) set.
	Allocate(flags PageTableEntryFlag, pages uintptr) PageTableEntry

	// Deallocate drops this owner's reference to the frames behind pte.
	Deallocate(pte PageTableEntry, pages uintptr)

	// Share adds an owner to the frames behind pte and returns the entry
	// the current owner must keep followed by the entry for the new owner.
	Share(pte PageTableEntry, pages uintptr) (PageTableEntry, PageTableEntry)

	// Exclude returns an entry whose frames are owned only by the caller,
	// copying the contents if they are still shared.
	Exclude(pte PageTableEntry, pages uintptr) PageTableEntry

	// PhysToVirt returns the address through which frame can be accessed.
	PhysToVirt(frame mm.Frame) uintptr

	// VirtToPhys returns the frame that contains the linear address addr.
	VirtToPhys(addr uintptr) mm.Frame
}
