// Package heap provides the kernel's general purpose allocator. It serves
// small requests from a private buddy allocator and grows by pulling blocks
// from the frame pool whenever that allocator runs dry.
package heap

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/buddy"
)

// MinShift sets the smallest heap block to 8 bytes.
const MinShift = 3

var (
	// ErrOutOfMemory is raised when neither the heap nor the frame pool can
	// satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	errNotInitialized = &kernel.Error{Module: "heap", Message: "heap used before Init"}
)

// FrameSource supplies the heap with memory when it needs to grow.
type FrameSource interface {
	// Allocate returns a block of at least size bytes aligned to align
	// and the actual size of the block.
	Allocate(size, align uintptr) (uintptr, uintptr, *kernel.Error)

	// Release returns the page aligned range [addr, addr+size).
	Release(addr, size uintptr)
}

// Heap is a buddy allocator with 8 byte granularity backed by a FrameSource.
type Heap struct {
	local  buddy.Allocator
	source FrameSource

	grown  uint64
	direct uint64
	allocs uint64
	frees  uint64
}

// Init anchors the heap at base, normally the linear address of the kernel
// image start, and sets the source it grows from. The heap starts empty.
func (h *Heap) Init(base uintptr, source FrameSource) {
	*h = Heap{source: source}
	h.local.Init(MinShift, base)
}

// Alloc returns size bytes aligned to align. If the heap has no suitable
// block it pulls one of NextPow2(size) bytes from its source and retries
// once; failing that is fatal. Requests no local block can hold are served
// by the source directly.
func (h *Heap) Alloc(size, align uintptr) uintptr {
	if h.source == nil {
		panic(errNotInitialized)
	}

	if h.isDirect(size, align) {
		addr := h.allocDirect(size, align)
		h.allocs++
		return addr
	}

	addr, _, err := h.local.Allocate(size, align)
	if err != nil {
		h.grow(size, align)
		if addr, _, err = h.local.Allocate(size, align); err != nil {
			panic(ErrOutOfMemory)
		}
	}

	h.allocs++
	return addr
}

func (h *Heap) grow(size, align uintptr) {
	block, blockSize, err := h.source.Allocate(mm.NextPow2(size), align)
	if err != nil {
		panic(ErrOutOfMemory)
	}

	h.local.Transfer(block, blockSize)
	h.grown++
}

// isDirect reports whether a request bypasses the local allocator.
func (h *Heap) isDirect(size, align uintptr) bool {
	return size > h.local.MaxBlock() || align > h.local.MaxBlock()
}

// allocDirect takes whole pages from the source and hands the unused tail
// of the block back right away.
func (h *Heap) allocDirect(size, align uintptr) uintptr {
	addr, blockSize, err := h.source.Allocate(size, align)
	if err != nil {
		panic(ErrOutOfMemory)
	}

	if used := mm.AlignUp(size, mm.PageSize); blockSize > used {
		h.source.Release(addr+used, blockSize-used)
	}
	h.direct++
	return addr
}

// Free returns a block obtained from Alloc with the same size and alignment.
// Local blocks stay with the heap; blocks served by the source go back to
// it.
func (h *Heap) Free(addr, size, align uintptr) {
	if h.isDirect(size, align) {
		h.source.Release(addr, mm.AlignUp(size, mm.PageSize))
	} else {
		h.local.Deallocate(addr, size, align)
	}
	h.frees++
}

// Stats describes the heap's bookkeeping.
type Stats struct {
	Capacity mm.Size
	Free     mm.Size
	Grown    uint64
	Direct   uint64
	Allocs   uint64
	Frees    uint64
}

// Stats returns the current heap statistics.
func (h *Heap) Stats() Stats {
	return Stats{
		Capacity: mm.Size(h.local.Capacity()),
		Free:     mm.Size(h.local.Free()),
		Grown:    h.grown,
		Direct:   h.direct,
		Allocs:   h.allocs,
		Frees:    h.frees,
	}
}
