package vmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/cpu"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/layout"
	"unsafe"
)

var (
	// flushTLBEntryFn and switchTranslationFn are used by tests to
	// observe TLB maintenance.
	flushTLBEntryFn     = cpu.FlushTLBEntry
	switchTranslationFn = cpu.SwitchTranslation

	errMisalignedRoot     = &kernel.Error{Module: "vmm", Message: "root page table is not page aligned"}
	errMisalignedOffset   = &kernel.Error{Module: "vmm", Message: "linear window offset is not aligned to a superpage"}
	errLinearWindowRange  = &kernel.Error{Module: "vmm", Message: "linear window does not fit in the top-level table"}
	errSuperpageInPath    = &kernel.Error{Module: "vmm", Message: "mapping would split an existing superpage"}
	errSegmentNotUniform  = &kernel.Error{Module: "vmm", Message: "segment is not backed by a single contiguous run"}
	errNonCanonicalRegion = &kernel.Error{Module: "vmm", Message: "segment is not a canonical Sv39 range"}
	errNoPermissions      = &kernel.Error{Module: "vmm", Message: "leaf mappings need at least one of R, W or X"}
)

// AddressSpace is a virtual address space: a root page table it exclusively
// owns, the segments mapped into it and the page manager that supplies the
// frames for both.
type AddressSpace[M PageManager] struct {
	root     *PageTable
	segments segmentSet
	manager  M
}

// New allocates a zeroed root table through manager and returns an empty
// address space.
func New[M PageManager](manager M) *AddressSpace[M] {
	pte := manager.Allocate(FlagValid, 1)
	rootAddr := manager.PhysToVirt(pte.Frame())
	if !mm.IsAligned(rootAddr, mm.PageSize) {
		panic(errMisalignedRoot)
	}

	return &AddressSpace[M]{
		root:     TableAt(rootAddr),
		segments: newSegmentSet(),
		manager:  manager,
	}
}

// Manager returns the page manager backing this address space.
func (as *AddressSpace[M]) Manager() M { return as.manager }

// Root returns the root table.
func (as *AddressSpace[M]) Root() *PageTable { return as.root }

// RootFrame returns the physical frame that holds the root table.
func (as *AddressSpace[M]) RootFrame() mm.Frame {
	return as.manager.VirtToPhys(uintptr(unsafe.Pointer(as.root)))
}

// SATP returns the satp value that activates this address space.
func (as *AddressSpace[M]) SATP() uint64 {
	return cpu.SATP(cpu.SATPModeSv39, 0, uintptr(as.RootFrame()))
}

// Activate installs this address space on the current hart and flushes the
// TLB.
func (as *AddressSpace[M]) Activate() {
	switchTranslationFn(as.SATP())
}

// Kernel maps the linear window [l.Offset(), l.Top()) with top-level leaf
// entries carrying flags. Entry i of the window maps physical gigabyte i, so
// ceil(PTop / 1 GiB) entries are written starting at the top-level index of
// the offset. The window is recorded as a single segment.
func (as *AddressSpace[M]) Kernel(l *layout.Layout, flags PageTableEntryFlag) *kernel.Error {
	offset, top := l.Offset(), l.Top()
	if !mm.IsAligned(offset, SuperpageSize) {
		panic(errMisalignedOffset)
	}

	var (
		base  = TopLevelIndex(offset)
		count = (l.VToP(top) + SuperpageSize - 1) / SuperpageSize
	)
	if base+count > EntriesPerTable {
		return errLinearWindowRange
	}

	window := Segment{
		Start: mm.PageFromAddress(offset),
		End:   mm.PageFromAddress(mm.AlignUp(top, mm.PageSize)),
	}
	if err := as.segments.insert(window); err != nil {
		return err
	}

	for i := uintptr(0); i < count; i++ {
		as.root[base+i] = NewEntry(mm.Frame(i*SuperpageFrames), flags|FlagValid)
	}

	return nil
}

// Map allocates pages contiguous frames through the page manager and maps
// them with 4 KiB leaves at start. Missing intermediate tables are allocated
// through the page manager as well.
func (as *AddressSpace[M]) Map(start mm.Page, pages uintptr, flags PageTableEntryFlag) *kernel.Error {
	if flags&(FlagRead|FlagWrite|FlagExec) == 0 {
		return errNoPermissions
	}

	seg := Segment{Start: start, End: start + mm.Page(pages)}
	if pages == 0 {
		return errEmptySegment
	}
	if !IsCanonical(seg.Start.Address()) || !IsCanonical((seg.End - 1).Address()) {
		return errNonCanonicalRegion
	}
	if err := as.segments.insert(seg); err != nil {
		return err
	}

	pte := as.manager.Allocate(flags, pages)
	if err := as.install(seg, pte); err != nil {
		as.manager.Deallocate(pte, pages)
		as.segments.remove(start)
		return err
	}

	return nil
}

// Unmap removes the segment that starts at start and releases its frames.
func (as *AddressSpace[M]) Unmap(start mm.Page) *kernel.Error {
	seg, ok := as.segments.lookup(start)
	if !ok {
		return ErrNoSuchSegment
	}

	pte, err := as.segmentEntry(seg)
	if err != nil {
		return err
	}

	as.clear(seg)
	as.manager.Deallocate(pte, seg.Pages())
	as.segments.remove(start)
	return nil
}

// ShareSegment maps the segment that starts at start into dst at the same
// virtual pages. Both spaces end up referring to the same frames through the
// entries returned by the page manager's Share.
func (as *AddressSpace[M]) ShareSegment(dst *AddressSpace[M], start mm.Page) *kernel.Error {
	seg, ok := as.segments.lookup(start)
	if !ok {
		return ErrNoSuchSegment
	}

	pte, err := as.segmentEntry(seg)
	if err != nil {
		return err
	}

	if err = dst.segments.insert(seg); err != nil {
		return err
	}

	keep, shared := as.manager.Share(pte, seg.Pages())
	if err = dst.install(seg, shared); err != nil {
		dst.manager.Deallocate(shared, seg.Pages())
		dst.segments.remove(start)
		return err
	}

	return as.install(seg, keep)
}

// MakePrivate ensures that the frames behind the segment that starts at
// start are owned by this address space alone, reinstalling its leaves if
// the page manager had to move them.
func (as *AddressSpace[M]) MakePrivate(start mm.Page) *kernel.Error {
	seg, ok := as.segments.lookup(start)
	if !ok {
		return ErrNoSuchSegment
	}

	pte, err := as.segmentEntry(seg)
	if err != nil {
		return err
	}

	return as.install(seg, as.manager.Exclude(pte, seg.Pages()))
}

// Translate returns the physical address that virtAddr maps to.
func (as *AddressSpace[M]) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return Translate(as.root, virtAddr, as.resolve)
}

// Segments returns a copy of the recorded segments in ascending order.
func (as *AddressSpace[M]) Segments() []Segment {
	segs := make([]Segment, 0, as.segments.len())
	as.segments.visit(func(seg Segment) bool {
		segs = append(segs, seg)
		return true
	})
	return segs
}

// SegmentAt returns the segment that contains page.
func (as *AddressSpace[M]) SegmentAt(page mm.Page) (Segment, bool) {
	return as.segments.containing(page)
}

func (as *AddressSpace[M]) resolve(frame mm.Frame) *PageTable {
	return TableAt(as.manager.PhysToVirt(frame))
}

// install writes consecutive 4 KiB leaves for seg starting with pte. On
// failure it clears the leaves it wrote and releases the tables it
// allocated, leaving the hierarchy as it found it.
func (as *AddressSpace[M]) install(seg Segment, pte PageTableEntry) *kernel.Error {
	var (
		err     *kernel.Error
		created []*PageTableEntry
	)

	for i := uintptr(0); i < seg.Pages(); i++ {
		virtAddr := (seg.Start + mm.Page(i)).Address()
		leaf := pte
		leaf.SetFrame(pte.Frame() + mm.Frame(i))

		walk(as.root, virtAddr, as.resolve, func(level uint8, entry *PageTableEntry) bool {
			if level == pageLevels-1 {
				*entry = leaf
				flushTLBEntryFn(virtAddr)
				return false
			}

			if entry.Valid() && entry.IsLeaf() {
				err = errSuperpageInPath
				return false
			}

			if !entry.Valid() {
				*entry = as.manager.Allocate(FlagValid, 1)
				created = append(created, entry)
			}
			return true
		})

		if err != nil {
			as.clear(Segment{Start: seg.Start, End: seg.Start + mm.Page(i)})
			as.releaseTables(created)
			return err
		}
	}

	return nil
}

// releaseTables unlinks and frees tables allocated by install, children
// before their parents.
func (as *AddressSpace[M]) releaseTables(created []*PageTableEntry) {
	for i := len(created) - 1; i >= 0; i-- {
		table := *created[i]
		*created[i] = 0
		as.manager.Deallocate(table, 1)
	}
}

// clear invalidates the leaves of seg.
func (as *AddressSpace[M]) clear(seg Segment) {
	for i := uintptr(0); i < seg.Pages(); i++ {
		virtAddr := (seg.Start + mm.Page(i)).Address()
		walk(as.root, virtAddr, as.resolve, func(level uint8, entry *PageTableEntry) bool {
			if level == pageLevels-1 {
				*entry = 0
				flushTLBEntryFn(virtAddr)
				return false
			}
			return entry.Valid()
		})
	}
}

// segmentEntry returns the leaf for the first page of seg after checking
// that every page of the segment is backed by the next frame with the same
// flags.
func (as *AddressSpace[M]) segmentEntry(seg Segment) (PageTableEntry, *kernel.Error) {
	var first PageTableEntry

	for i := uintptr(0); i < seg.Pages(); i++ {
		var leaf PageTableEntry
		walk(as.root, (seg.Start + mm.Page(i)).Address(), as.resolve, func(level uint8, entry *PageTableEntry) bool {
			if level == pageLevels-1 {
				leaf = *entry
			}
			return entry.Valid() && !entry.IsLeaf()
		})

		switch {
		case !leaf.Valid():
			return 0, ErrInvalidMapping
		case i == 0:
			first = leaf
		case leaf.Frame() != first.Frame()+mm.Frame(i) || leaf.Flags() != first.Flags():
			return 0, errSegmentNotUniform
		}
	}

	return first, nil
}
