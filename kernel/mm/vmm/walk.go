package vmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
)

var (
	// ErrMisalignedSuperpage is returned when a walk reaches a superpage
	// leaf whose frame is not aligned to the span of its level.
	ErrMisalignedSuperpage = &kernel.Error{Module: "vmm", Message: "superpage frame not aligned to its level"}
)

// TableResolver returns a pointer through which the page table stored in
// frame can be accessed.
type TableResolver func(mm.Frame) *PageTable

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// root. It calls the supplied walkFn with the page table entry that
// corresponds to each page table level. The walk descends only through
// valid non-leaf entries, after walkFn has had a chance to inspect (and
// populate) them.
func walk(root *PageTable, virtAddr uintptr, resolve TableResolver, walkFn pageTableWalker) {
	table := root
	for level := uint8(0); level < pageLevels; level++ {
		pte := &table[Index(level, virtAddr)]
		if !walkFn(level, pte) {
			return
		}

		if !pte.Valid() || pte.IsLeaf() || level == pageLevels-1 {
			return
		}

		table = resolve(pte.Frame())
	}
}

// Translate returns the physical address that virtAddr maps to in the table
// hierarchy rooted at root. Leaves at any level are honoured.
func Translate(root *PageTable, virtAddr uintptr, resolve TableResolver) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	walk(root, virtAddr, resolve, func(level uint8, pte *PageTableEntry) bool {
		if !pte.Valid() {
			return false
		}

		if !pte.IsLeaf() {
			return true
		}

		span := LevelSize(level)
		if !mm.IsAligned(pte.Frame().Address(), span) {
			err = ErrMisalignedSuperpage
			return false
		}

		physAddr, err = pte.Frame().Address()+(virtAddr&(span-1)), nil
		return false
	})

	if err != nil {
		return 0, err
	}
	return physAddr, nil
}
