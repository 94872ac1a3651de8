package vmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"

	"github.com/google/btree"
)

var (
	// ErrSegmentOverlap is returned when a new segment would overlap one
	// that is already recorded in the address space.
	ErrSegmentOverlap = &kernel.Error{Module: "vmm", Message: "segment overlaps an existing segment"}

	// ErrNoSuchSegment is returned when an operation names a segment that
	// is not recorded in the address space.
	ErrNoSuchSegment = &kernel.Error{Module: "vmm", Message: "no segment starts at the requested page"}

	errEmptySegment = &kernel.Error{Module: "vmm", Message: "segment must span at least one page"}
)

// segmentTreeDegree is the btree degree for segment sets. Address spaces hold
// a handful of segments so a small node size keeps lookups cache friendly.
const segmentTreeDegree = 8

// Segment is a half-open range [Start, End) of virtual pages that an address
// space has mapped.
type Segment struct {
	Start, End mm.Page
}

// Pages returns the number of pages in the segment.
func (s Segment) Pages() uintptr { return uintptr(s.End - s.Start) }

// Overlaps reports whether s and o share at least one page.
func (s Segment) Overlaps(o Segment) bool {
	return s.Start < o.End && o.Start < s.End
}

func segmentLess(a, b Segment) bool { return a.Start < b.Start }

// segmentSet is an ordered set of non-overlapping segments.
type segmentSet struct {
	tree *btree.BTreeG[Segment]
}

func newSegmentSet() segmentSet {
	return segmentSet{tree: btree.NewG(segmentTreeDegree, segmentLess)}
}

// insert adds seg to the set unless it is empty or overlaps a member.
func (set segmentSet) insert(seg Segment) *kernel.Error {
	if seg.End <= seg.Start {
		return errEmptySegment
	}

	overlap := false
	set.tree.DescendLessOrEqual(seg, func(prev Segment) bool {
		overlap = prev.Overlaps(seg)
		return false
	})
	if !overlap {
		set.tree.AscendGreaterOrEqual(seg, func(next Segment) bool {
			overlap = next.Overlaps(seg)
			return false
		})
	}
	if overlap {
		return ErrSegmentOverlap
	}

	set.tree.ReplaceOrInsert(seg)
	return nil
}

// lookup returns the segment that starts at start.
func (set segmentSet) lookup(start mm.Page) (Segment, bool) {
	return set.tree.Get(Segment{Start: start})
}

// containing returns the segment that contains page.
func (set segmentSet) containing(page mm.Page) (Segment, bool) {
	var (
		found Segment
		ok    bool
	)
	set.tree.DescendLessOrEqual(Segment{Start: page}, func(seg Segment) bool {
		found, ok = seg, page < seg.End
		return false
	})
	return found, ok
}

func (set segmentSet) remove(start mm.Page) {
	set.tree.Delete(Segment{Start: start})
}

// visit calls fn for each segment in ascending order until fn returns false.
func (set segmentSet) visit(fn func(Segment) bool) {
	set.tree.Ascend(fn)
}

func (set segmentSet) len() int { return set.tree.Len() }
