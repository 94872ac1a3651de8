package vmm

import "rvgopher/kernel/mm"

const (
	// pageLevels indicates the number of page levels used by Sv39.
	pageLevels = 3

	// EntriesPerTable is the number of entries in a page table at any level.
	EntriesPerTable = 1 << 9

	// SuperpageSize is the span of a leaf entry in the top-level table.
	SuperpageSize = uintptr(1) << 30

	// SuperpageFrames is the number of frames spanned by a top-level leaf.
	SuperpageFrames = SuperpageSize >> mm.PageShift

	// vaBits is the number of significant virtual address bits. Bits 63-39
	// must equal bit 38.
	vaBits = 39

	// ptePPNShift is the bit position of the physical page number inside
	// a page table entry.
	ptePPNShift = 10

	// ptePPNMask extracts the 44-bit physical page number field.
	ptePPNMask = uintptr((1<<44)-1) << ptePPNShift
)

var (
	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		30,
		21,
		12,
	}
)

const (
	// FlagValid marks the entry as valid. Entries without it are ignored
	// by the MMU.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead allows reads through this mapping.
	FlagRead

	// FlagWrite allows writes through this mapping.
	FlagWrite

	// FlagExec allows instruction fetches through this mapping.
	FlagExec

	// FlagUser makes the mapping accessible from user mode.
	FlagUser

	// FlagGlobal marks a mapping that exists in every address space.
	FlagGlobal

	// FlagAccessed is the accessed bit. It is preset on kernel mappings
	// since the kernel does not handle access faults.
	FlagAccessed

	// FlagDirty is the dirty bit. It is preset on kernel mappings for the
	// same reason.
	FlagDirty

	// FlagCopyOnWrite lives in the first software-reserved bit. It is set
	// on shared mappings whose write permission has been revoked. This
	// flag and FlagWrite are mutually exclusive.
	FlagCopyOnWrite

	// flagMask covers every flag bit including both software bits.
	flagMask = PageTableEntryFlag(1<<ptePPNShift) - 1

	// FlagsKernel is the flag set used for the kernel's linear window.
	FlagsKernel = FlagDirty | FlagAccessed | FlagGlobal | FlagExec | FlagWrite | FlagRead | FlagValid
)
