// Package buddy implements a power-of-two buddy allocator whose bookkeeping
// lives inside the free blocks themselves, so it can run before any other
// allocator exists.
package buddy

import (
	"math/bits"
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
	"unsafe"
)

// Orders is the number of block orders an Allocator tracks. Order k blocks
// are 1 << (minShift + k) bytes.
const Orders = 20

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "buddy", Message: "out of memory"}

	errTooLarge    = &kernel.Error{Module: "buddy", Message: "request exceeds the largest block order"}
	errAlignment   = &kernel.Error{Module: "buddy", Message: "requested alignment exceeds the anchor alignment"}
	errDoubleFree  = &kernel.Error{Module: "buddy", Message: "block released twice"}
	errMinShift    = &kernel.Error{Module: "buddy", Message: "minimum block cannot hold a free-list link"}
	errNotAnchored = &kernel.Error{Module: "buddy", Message: "allocator used before Init"}
)

// Allocator is a buddy allocator anchored at base: block addresses and
// buddy relationships are computed relative to it. Each order keeps a singly
// linked free list sorted by address whose links are stored in the first
// word of every free block.
//
// The zero value must be initialized with Init before use.
type Allocator struct {
	base     uintptr
	minShift uintptr
	ready    bool

	heads  [Orders]uintptr
	counts [Orders]uintptr

	capacity uintptr
	free     uintptr
}

// Init resets the allocator with a minimum block size of 1 << minShift bytes
// anchored at base. All previously tracked memory is forgotten.
func (a *Allocator) Init(minShift, base uintptr) {
	if uintptr(1)<<minShift < unsafe.Sizeof(uintptr(0)) {
		panic(errMinShift)
	}

	*a = Allocator{base: base, minShift: minShift, ready: true}
}

// MinBlock returns the size of an order 0 block.
func (a *Allocator) MinBlock() uintptr { return uintptr(1) << a.minShift }

// MaxBlock returns the size of the largest block the allocator tracks.
func (a *Allocator) MaxBlock() uintptr { return a.blockSize(Orders - 1) }

// Capacity returns the number of bytes handed to the allocator by Transfer.
func (a *Allocator) Capacity() uintptr { return a.capacity }

// Free returns the number of bytes currently available.
func (a *Allocator) Free() uintptr { return a.free }

// Transfer hands the region [addr, addr+size) to the allocator. The region
// is trimmed to whole minimum blocks and split into the largest blocks its
// alignment allows; blocks merge with free buddies already tracked.
func (a *Allocator) Transfer(addr, size uintptr) {
	a.capacity += a.releaseRange(addr, size)
}

// Release returns [addr, addr+size), a part of memory obtained from
// Allocate, without changing the capacity.
func (a *Allocator) Release(addr, size uintptr) {
	a.releaseRange(addr, size)
}

// releaseRange frees the whole minimum blocks inside [addr, addr+size) and
// returns the number of bytes freed.
func (a *Allocator) releaseRange(addr, size uintptr) uintptr {
	a.mustBeReady()

	start := a.alignUp(addr)
	end := addr + size
	if end < addr {
		end = ^uintptr(0)
	}
	end = a.alignDown(end)

	var released uintptr
	for start < end && end-start >= a.MinBlock() {
		order := a.maxOrderAt(start, end-start)
		a.release(start, order)
		released += a.blockSize(order)
		start += a.blockSize(order)
	}
	return released
}

// Allocate returns a block of at least size bytes aligned to align along
// with the block's actual size.
func (a *Allocator) Allocate(size, align uintptr) (uintptr, uintptr, *kernel.Error) {
	a.mustBeReady()

	order, err := a.orderFor(size, align)
	if err != nil {
		return 0, 0, err
	}

	found := order
	for found < Orders && a.heads[found] == 0 {
		found++
	}
	if found == Orders {
		return 0, 0, ErrOutOfMemory
	}

	addr := a.pop(found)
	for found > order {
		found--
		a.insert(found, addr+a.blockSize(found))
	}

	a.free -= a.blockSize(order)
	return addr, a.blockSize(order), nil
}

// Deallocate returns a block obtained from Allocate with the same size and
// alignment.
func (a *Allocator) Deallocate(addr, size, align uintptr) {
	a.mustBeReady()

	order, err := a.orderFor(size, align)
	if err != nil {
		panic(err)
	}
	a.release(addr, order)
}

// VisitFree calls visitor for every free block in ascending order of size
// and address until visitor returns false.
func (a *Allocator) VisitFree(visitor func(addr, size uintptr) bool) {
	for order := 0; order < Orders; order++ {
		for node := a.heads[order]; node != 0; node = next(node) {
			if !visitor(node, a.blockSize(order)) {
				return
			}
		}
	}
}

// FreeBlocks returns the number of free blocks of the given order.
func (a *Allocator) FreeBlocks(order int) uintptr { return a.counts[order] }

func (a *Allocator) mustBeReady() {
	if !a.ready {
		panic(errNotAnchored)
	}
}

func (a *Allocator) blockSize(order int) uintptr {
	return uintptr(1) << (a.minShift + uintptr(order))
}

func (a *Allocator) alignUp(addr uintptr) uintptr {
	return a.base + mm.AlignUp(addr-a.base, a.MinBlock())
}

func (a *Allocator) alignDown(addr uintptr) uintptr {
	return a.base + mm.AlignDown(addr-a.base, a.MinBlock())
}

// orderFor returns the smallest order whose blocks fit size bytes at the
// requested alignment.
func (a *Allocator) orderFor(size, align uintptr) (int, *kernel.Error) {
	if align > 1 && !a.anchorAligned(align) {
		return 0, errAlignment
	}

	need := size
	if align > need {
		need = align
	}
	if need < a.MinBlock() {
		need = a.MinBlock()
	}
	if need > a.MaxBlock() {
		return 0, errTooLarge
	}

	return int(mm.Log2(mm.NextPow2(need))) - int(a.minShift), nil
}

// anchorAligned reports whether blocks aligned relative to the anchor are
// also aligned to align in absolute terms.
func (a *Allocator) anchorAligned(align uintptr) bool {
	return a.base == 0 || uintptr(1)<<bits.TrailingZeros64(uint64(a.base)) >= align
}

// maxOrderAt returns the largest order whose block starts at addr, is
// aligned relative to the anchor and fits in size bytes.
func (a *Allocator) maxOrderAt(addr, size uintptr) int {
	rel := addr - a.base
	order := Orders - 1
	if rel != 0 {
		if tz := bits.TrailingZeros64(uint64(rel)) - int(a.minShift); tz < order {
			order = tz
		}
	}
	for order > 0 && a.blockSize(order) > size {
		order--
	}
	return order
}

// release frees the block at addr of the given order, merging it with its
// buddy for as long as the buddy is free.
func (a *Allocator) release(addr uintptr, order int) {
	a.free += a.blockSize(order)

	for ; order < Orders-1; order++ {
		buddy := a.base + ((addr - a.base) ^ a.blockSize(order))
		if !a.remove(order, buddy) {
			break
		}
		if buddy < addr {
			addr = buddy
		}
	}

	a.insert(order, addr)
}

// insert adds addr to the free list of order keeping it sorted.
func (a *Allocator) insert(order int, addr uintptr) {
	link := &a.heads[order]
	for *link != 0 && *link < addr {
		link = nextPtr(*link)
	}
	if *link == addr {
		panic(errDoubleFree)
	}

	*nextPtr(addr) = *link
	*link = addr
	a.counts[order]++
}

// remove unlinks addr from the free list of order if it is present.
func (a *Allocator) remove(order int, addr uintptr) bool {
	link := &a.heads[order]
	for *link != 0 && *link < addr {
		link = nextPtr(*link)
	}
	if *link != addr {
		return false
	}

	*link = next(addr)
	a.counts[order]--
	return true
}

// pop unlinks the lowest free block of order.
func (a *Allocator) pop(order int) uintptr {
	addr := a.heads[order]
	a.heads[order] = next(addr)
	a.counts[order]--
	return addr
}

func nextPtr(node uintptr) *uintptr {
	return (*uintptr)(unsafe.Pointer(node))
}

func next(node uintptr) uintptr {
	return *nextPtr(node)
}
