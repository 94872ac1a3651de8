package vmm

import (
	"bytes"
	"rvgopher/kernel"
	"rvgopher/kernel/cpu"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/layout"
	"rvgopher/kernel/mm/mmtest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakePhysBase is the physical address the fake manager pretends its arena
// starts at.
const fakePhysBase = uintptr(0x80000000)

// fakeManager hands out frames from a host arena with a bump pointer.
type fakeManager struct {
	arena, pages, next uintptr

	deallocs       []PageTableEntry
	shares, excls  int
	misalignedRoot bool
}

func newFakeManager(t *testing.T, pages uintptr) *fakeManager {
	return &fakeManager{
		arena: mmtest.Arena(t, pages*mm.PageSize, mm.PageSize),
		pages: pages,
	}
}

func (m *fakeManager) Allocate(flags PageTableEntryFlag, pages uintptr) PageTableEntry {
	if m.next+pages > m.pages {
		panic("fake manager exhausted")
	}
	addr := m.arena + m.next*mm.PageSize
	m.next += pages
	kernel.Memset(addr, 0, pages*mm.PageSize)
	return NewEntry(m.VirtToPhys(addr), flags|FlagValid)
}

func (m *fakeManager) Deallocate(pte PageTableEntry, _ uintptr) {
	m.deallocs = append(m.deallocs, pte)
}

func (m *fakeManager) Share(pte PageTableEntry, _ uintptr) (PageTableEntry, PageTableEntry) {
	m.shares++
	if pte.HasFlags(FlagWrite) {
		pte.ClearFlags(FlagWrite)
		pte.SetFlags(FlagCopyOnWrite)
	}
	return pte, pte
}

func (m *fakeManager) Exclude(pte PageTableEntry, pages uintptr) PageTableEntry {
	m.excls++
	flags := pte.Flags()
	if flags&FlagCopyOnWrite != 0 {
		flags = flags&^FlagCopyOnWrite | FlagWrite
	}
	fresh := m.Allocate(flags, pages)
	kernel.Memcopy(m.PhysToVirt(pte.Frame()), m.PhysToVirt(fresh.Frame()), pages*mm.PageSize)
	return fresh
}

func (m *fakeManager) PhysToVirt(frame mm.Frame) uintptr {
	addr := frame.Address() - fakePhysBase + m.arena
	if m.misalignedRoot {
		addr += 8
	}
	return addr
}

func (m *fakeManager) VirtToPhys(addr uintptr) mm.Frame {
	return mm.FrameFromAddress(addr - m.arena + fakePhysBase)
}

func kernelLayout(ptop uintptr) *layout.Layout {
	var l layout.Layout
	l.LocateAt(0x80200000, 0x80210000, 0x80220000)
	l.SetTop(l.PToV(ptop))
	return &l
}

func TestNewAddressSpace(t *testing.T) {
	m := newFakeManager(t, 4)
	as := New(m)

	if exp, got := mm.FrameFromAddress(fakePhysBase), as.RootFrame(); got != exp {
		t.Fatalf("expected root frame %v; got %v", exp, got)
	}

	for index, pte := range as.Root() {
		if pte != 0 {
			t.Fatalf("expected a zeroed root table; entry %d is 0x%x", index, uintptr(pte))
		}
	}

	if exp, got := cpu.SATP(cpu.SATPModeSv39, 0, uintptr(mm.FrameFromAddress(fakePhysBase))), as.SATP(); got != exp {
		t.Fatalf("expected satp 0x%x; got 0x%x", exp, got)
	}

	if len(as.Segments()) != 0 {
		t.Fatal("expected a new address space to have no segments")
	}
}

func TestNewAddressSpaceMisalignedRoot(t *testing.T) {
	m := newFakeManager(t, 1)
	m.misalignedRoot = true

	defer func() {
		if err := recover(); err != errMisalignedRoot {
			t.Fatalf("expected a panic with errMisalignedRoot; got %v", err)
		}
	}()
	New(m)
}

func TestKernelMapping(t *testing.T) {
	// 2 GiB + 128 MiB of memory needs three superpages
	l := kernelLayout(0x88000000)
	as := New(newFakeManager(t, 1))

	if err := as.Kernel(l, FlagsKernel); err != nil {
		t.Fatal(err)
	}

	base := TopLevelIndex(l.Offset())
	for index, pte := range as.Root() {
		i := uintptr(index)
		switch {
		case i >= base && i < base+3:
			exp := NewEntry(mm.Frame((i-base)*SuperpageFrames), FlagsKernel)
			if pte != exp {
				t.Errorf("expected entry %d to be 0x%x; got 0x%x", index, uintptr(exp), uintptr(pte))
			}
		case pte != 0:
			t.Errorf("expected entry %d to be empty; got 0x%x", index, uintptr(pte))
		}
	}

	expSegs := []Segment{{Start: mm.PageFromAddress(l.Offset()), End: mm.PageFromAddress(l.Top())}}
	if diff := cmp.Diff(expSegs, as.Segments()); diff != "" {
		t.Fatalf("unexpected segments (-want +got):\n%s", diff)
	}

	// every physical byte below top is reachable at offset+p
	for _, p := range []uintptr{0, 0x1234, 0x80200000, 0x87ffffff} {
		got, err := as.Translate(l.PToV(p))
		if err != nil {
			t.Fatalf("translate 0x%x: %v", l.PToV(p), err)
		}
		if got != p {
			t.Errorf("expected 0x%x to translate to 0x%x; got 0x%x", l.PToV(p), p, got)
		}
	}

	// a second linear window overlaps the first
	if err := as.Kernel(l, FlagsKernel); err != ErrSegmentOverlap {
		t.Fatalf("expected ErrSegmentOverlap; got %v", err)
	}
}

func TestKernelMappingErrors(t *testing.T) {
	t.Run("misaligned offset", func(t *testing.T) {
		var l layout.Layout
		l.LocateAt(0x80201000, 0x80210000, 0x80220000)
		l.SetTop(l.PToV(0x88000000))

		defer func() {
			if err := recover(); err != errMisalignedOffset {
				t.Fatalf("expected a panic with errMisalignedOffset; got %v", err)
			}
		}()
		New(newFakeManager(t, 1)).Kernel(&l, FlagsKernel)
	})

	t.Run("window larger than the table", func(t *testing.T) {
		// 256 entries are available above the offset's index
		l := kernelLayout(257 * SuperpageSize)
		if err := New(newFakeManager(t, 1)).Kernel(l, FlagsKernel); err != errLinearWindowRange {
			t.Fatalf("expected errLinearWindowRange; got %v", err)
		}
	})
}

func TestMapUnmap(t *testing.T) {
	defer func() { flushTLBEntryFn = cpu.FlushTLBEntry }()
	var flushed []uintptr
	flushTLBEntryFn = func(addr uintptr) { flushed = append(flushed, addr) }

	m := newFakeManager(t, 16)
	as := New(m)

	start := mm.PageFromAddress(0x40000000)
	if err := as.Map(start, 3, FlagRead|FlagWrite); err != nil {
		t.Fatal(err)
	}

	// root + 3 data frames + one level-1 table + one level-2 table
	if m.next != 6 {
		t.Fatalf("expected 6 frames to be allocated; got %d", m.next)
	}

	for i := uintptr(0); i < 3; i++ {
		virtAddr := (start + mm.Page(i)).Address() + 0x10
		got, err := as.Translate(virtAddr)
		if err != nil {
			t.Fatal(err)
		}
		if exp := fakePhysBase + (1+i)*mm.PageSize + 0x10; got != exp {
			t.Errorf("expected 0x%x to translate to 0x%x; got 0x%x", virtAddr, exp, got)
		}
	}

	if len(flushed) != 3 {
		t.Fatalf("expected 3 TLB flushes; got %d", len(flushed))
	}

	if seg, ok := as.SegmentAt(start + 2); !ok || seg.Start != start || seg.Pages() != 3 {
		t.Fatalf("expected SegmentAt to find the mapped segment; got %v, %t", seg, ok)
	}

	if err := as.Map(start+2, 1, FlagRead); err != ErrSegmentOverlap {
		t.Fatalf("expected ErrSegmentOverlap; got %v", err)
	}

	if err := as.Unmap(start); err != nil {
		t.Fatal(err)
	}

	if _, err := as.Translate(start.Address()); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping after Unmap; got %v", err)
	}

	expDealloc := []PageTableEntry{NewEntry(mm.FrameFromAddress(fakePhysBase+mm.PageSize), FlagRead|FlagWrite|FlagValid)}
	if diff := cmp.Diff(expDealloc, m.deallocs); diff != "" {
		t.Fatalf("unexpected deallocations (-want +got):\n%s", diff)
	}

	if err := as.Unmap(start); err != ErrNoSuchSegment {
		t.Fatalf("expected ErrNoSuchSegment; got %v", err)
	}
}

func TestMapErrors(t *testing.T) {
	as := New(newFakeManager(t, 8))

	specs := []struct {
		start  mm.Page
		pages  uintptr
		flags  PageTableEntryFlag
		expErr *kernel.Error
	}{
		{mm.PageFromAddress(0x40000000), 1, FlagValid, errNoPermissions},
		{mm.PageFromAddress(0x40000000), 0, FlagRead, errEmptySegment},
		{mm.PageFromAddress(0x4000000000), 1, FlagRead, errNonCanonicalRegion},
	}

	for specIndex, spec := range specs {
		if err := as.Map(spec.start, spec.pages, spec.flags); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	// a superpage that is not tracked as a segment blocks 4 KiB mappings
	as.Root()[1] = NewEntry(0, FlagsKernel)
	if err := as.Map(mm.PageFromAddress(0x40000000), 1, FlagRead); err != errSuperpageInPath {
		t.Fatalf("expected errSuperpageInPath; got %v", err)
	}
	if len(as.Segments()) != 0 {
		t.Fatal("expected a failed Map to leave no segment behind")
	}
}

func TestMapRollsBackTables(t *testing.T) {
	m := newFakeManager(t, 8)
	as := New(m)

	// the segment starts in an empty gigabyte and runs into a superpage
	as.Root()[1] = NewEntry(0, FlagsKernel)
	start := mm.PageFromAddress(0x40000000 - mm.PageSize)
	if err := as.Map(start, 2, FlagRead|FlagWrite); err != errSuperpageInPath {
		t.Fatalf("expected errSuperpageInPath; got %v", err)
	}

	frame := func(i uintptr) mm.Frame { return mm.FrameFromAddress(fakePhysBase + i*mm.PageSize) }
	// frame 0 is the root, 1-2 the data, 3 the level-1 and 4 the level-2 table
	exp := []PageTableEntry{
		NewEntry(frame(4), FlagValid),
		NewEntry(frame(3), FlagValid),
		NewEntry(frame(1), FlagRead|FlagWrite|FlagValid),
	}
	if diff := cmp.Diff(exp, m.deallocs); diff != "" {
		t.Fatalf("unexpected deallocations (-want +got):\n%s", diff)
	}

	if as.Root()[0] != 0 {
		t.Fatalf("expected the level-1 table to be unlinked from the root; got %v", as.Root()[0])
	}
	if _, err := as.Translate(start.Address()); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
	if len(as.Segments()) != 0 {
		t.Fatal("expected a failed Map to leave no segment behind")
	}
}

func TestShareSegment(t *testing.T) {
	defer func() { flushTLBEntryFn = cpu.FlushTLBEntry }()
	flushTLBEntryFn = func(uintptr) {}

	m := newFakeManager(t, 32)
	src, dst := New(m), New(m)

	start := mm.PageFromAddress(0x40000000)
	if err := src.Map(start, 2, FlagRead|FlagWrite); err != nil {
		t.Fatal(err)
	}

	payload := []byte("shared payload")
	srcPhys, _ := src.Translate(start.Address())
	copy(mmtest.Bytes(m.PhysToVirt(mm.FrameFromAddress(srcPhys)), mm.PageSize), payload)

	if err := src.ShareSegment(dst, start); err != nil {
		t.Fatal(err)
	}
	if m.shares != 1 {
		t.Fatalf("expected one Share call; got %d", m.shares)
	}

	for _, as := range []*AddressSpace[*fakeManager]{src, dst} {
		pte, err := as.segmentEntry(Segment{Start: start, End: start + 2})
		if err != nil {
			t.Fatal(err)
		}
		if pte.HasFlags(FlagWrite) || !pte.HasFlags(FlagCopyOnWrite) {
			t.Fatalf("expected shared leaves to be read-only copy-on-write; got %s", pte.Flags())
		}
		if phys, _ := as.Translate(start.Address()); phys != srcPhys {
			t.Fatalf("expected both spaces to map 0x%x; got 0x%x", srcPhys, phys)
		}
	}

	if err := src.ShareSegment(dst, start); err != ErrSegmentOverlap {
		t.Fatalf("expected ErrSegmentOverlap when sharing twice; got %v", err)
	}

	if err := dst.MakePrivate(start); err != nil {
		t.Fatal(err)
	}

	dstPhys, _ := dst.Translate(start.Address())
	if dstPhys == srcPhys {
		t.Fatal("expected MakePrivate to move the destination to fresh frames")
	}

	got := mmtest.Bytes(m.PhysToVirt(mm.FrameFromAddress(dstPhys)), uintptr(len(payload)))
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected private copy to contain %q; got %q", payload, got)
	}

	pte, _ := dst.segmentEntry(Segment{Start: start, End: start + 2})
	if !pte.HasFlags(FlagWrite) || pte.HasFlags(FlagCopyOnWrite) {
		t.Fatalf("expected private leaves to be writable; got %s", pte.Flags())
	}

	if err := dst.MakePrivate(start + 1); err != ErrNoSuchSegment {
		t.Fatalf("expected ErrNoSuchSegment; got %v", err)
	}
}

func TestActivate(t *testing.T) {
	defer func() { switchTranslationFn = cpu.SwitchTranslation }()

	var installed uint64
	switchTranslationFn = func(satp uint64) { installed = satp }

	as := New(newFakeManager(t, 1))
	as.Activate()

	if installed != as.SATP() {
		t.Fatalf("expected Activate to install 0x%x; got 0x%x", as.SATP(), installed)
	}
}

func TestDump(t *testing.T) {
	defer func() { flushTLBEntryFn = cpu.FlushTLBEntry }()
	flushTLBEntryFn = func(uintptr) {}

	l := kernelLayout(0x88000000)
	as := New(newFakeManager(t, 8))
	if err := as.Kernel(l, FlagsKernel); err != nil {
		t.Fatal(err)
	}
	if err := as.Map(mm.PageFromAddress(0x40000000), 1, FlagRead|FlagWrite); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	as.Dump(&buf)
	out := buf.String()

	for _, exp := range []string{
		"segments (2):",
		"[0x0000000040000000, 0x0000000040001000) 1 pages",
		"[256] 0xffffffc000000000 -> 0x0 DAG_XWRV 1048576Kb",
		"[258] 0xffffffc080000000 -> 0x80000000 DAG_XWRV 1048576Kb",
		"[  0] 0x0000000040000000 -> 0x80001000 _____WRV 4Kb",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected dump to contain %q; got:\n%s", exp, out)
		}
	}
}
