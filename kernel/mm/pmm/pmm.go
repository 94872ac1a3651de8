// Package pmm manages physical memory frames. Frames are handed out through
// their linear window addresses; the pool itself is a buddy allocator whose
// free lists live inside the free frames.
package pmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/hal/fdt"
	"rvgopher/kernel/kfmt"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/buddy"
	"rvgopher/kernel/mm/layout"
)

// maxRegions is the number of device tree memory regions the pool records
// for PrintMemoryMap.
const maxRegions = 8

var (
	// ErrOutOfMemory is raised when the pool cannot satisfy a request for
	// frames.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errNoMemory       = &kernel.Error{Module: "pmm", Message: "device tree describes no usable memory"}
	errZeroFrames     = &kernel.Error{Module: "pmm", Message: "request for zero frames"}
	errTooManyRegions = &kernel.Error{Module: "pmm", Message: "too many memory regions"}
)

// FrameAllocator is the kernel's pool of physical frames. All addresses it
// accepts and returns are linear window addresses.
type FrameAllocator struct {
	pool buddy.Allocator

	offset uintptr

	// physical range reserved for the kernel image, boot stack and boot
	// page table
	kernelStart, kernelEnd uintptr

	regions     [maxRegions]fdt.Region
	regionCount int
}

// Init resets the pool with a minimum block of 1 << pageShift bytes anchored
// at base. No memory is available until Transfer is called.
func (a *FrameAllocator) Init(pageShift, base uintptr) {
	*a = FrameAllocator{}
	a.pool.Init(pageShift, base)
}

// InitGlobal seeds the pool from the memory nodes of the device tree at the
// physical address dtbAddr and returns the highest linear address backed by
// memory. The region holding the kernel only contributes the memory past
// the boot page table; whatever precedes the kernel in that region belongs
// to the firmware.
func (a *FrameAllocator) InitGlobal(l *layout.Layout, dtbAddr uintptr) (uintptr, *kernel.Error) {
	a.Init(mm.PageShift, l.Start())
	a.offset = l.Offset()
	a.kernelStart = l.PStart()
	a.kernelEnd = l.BootPTRoot() + mm.PageSize

	tree, err := fdt.Open(l.PToV(dtbAddr), fdt.DefaultTolerances)
	if err != nil {
		return 0, err
	}

	// collect first: transferring writes free-list links into memory that
	// may hold the blob itself
	var overflow bool
	if err = tree.VisitMemRegions(func(r fdt.Region) {
		if a.regionCount == maxRegions {
			overflow = true
			return
		}
		a.regions[a.regionCount] = r
		a.regionCount++
	}); err != nil {
		return 0, err
	}
	if overflow {
		return 0, errTooManyRegions
	}

	var top uintptr
	for _, r := range a.regions[:a.regionCount] {
		start := r.Start
		if r.Contains(a.kernelStart) {
			start = a.kernelEnd
		}
		if r.End() <= start {
			continue
		}

		a.Transfer(l.PToV(start), r.End()-start)
		if end := l.PToV(r.End()); end > top {
			top = end
		}
	}

	if top == 0 || a.pool.Capacity() == 0 {
		return 0, errNoMemory
	}
	return top, nil
}

// Transfer adds the linear range [addr, addr+size) to the pool.
func (a *FrameAllocator) Transfer(addr, size uintptr) {
	a.pool.Transfer(addr, size)
}

// Allocate reserves a power of two block of at least size bytes aligned to
// align. It returns the block address and its actual size.
func (a *FrameAllocator) Allocate(size, align uintptr) (uintptr, uintptr, *kernel.Error) {
	if align < mm.PageSize {
		align = mm.PageSize
	}
	addr, blockSize, err := a.pool.Allocate(size, align)
	if err != nil {
		return 0, 0, ErrOutOfMemory
	}
	return addr, blockSize, nil
}

// AllocFrames reserves exactly n contiguous frames and returns the linear
// address of the first one. Running out of frames is fatal and so is
// asking for none.
func (a *FrameAllocator) AllocFrames(n uintptr) uintptr {
	if n == 0 {
		panic(errZeroFrames)
	}

	size := n * mm.PageSize
	addr, blockSize, err := a.pool.Allocate(size, mm.PageSize)
	if err != nil {
		panic(ErrOutOfMemory)
	}

	if blockSize > size {
		a.pool.Release(addr+size, blockSize-size)
	}
	return addr
}

// FreeFrames returns n contiguous frames starting at addr to the pool.
func (a *FrameAllocator) FreeFrames(addr, n uintptr) {
	a.Release(addr, n*mm.PageSize)
}

// Release returns the page aligned range [addr, addr+size), previously
// handed out by Allocate or AllocFrames, to the pool.
func (a *FrameAllocator) Release(addr, size uintptr) {
	a.pool.Release(addr, size)
}

// VisitFree calls visitor with every free block until it returns false.
func (a *FrameAllocator) VisitFree(visitor func(addr, size uintptr) bool) {
	a.pool.VisitFree(visitor)
}

// Capacity returns the number of bytes managed by the pool.
func (a *FrameAllocator) Capacity() mm.Size { return mm.Size(a.pool.Capacity()) }

// Free returns the number of bytes available in the pool.
func (a *FrameAllocator) Free() mm.Size { return mm.Size(a.pool.Free()) }

// Used returns the number of bytes handed out.
func (a *FrameAllocator) Used() mm.Size { return a.Capacity() - a.Free() }

// Regions returns the memory regions recorded by InitGlobal.
func (a *FrameAllocator) Regions() []fdt.Region { return a.regions[:a.regionCount] }

// PrintMemoryMap prints the regions reported by the device tree, the range
// reserved for the kernel and the pool totals at kfmt.LevelInfo.
func (a *FrameAllocator) PrintMemoryMap() {
	kfmt.Logf(kfmt.LevelInfo, "[pmm] system memory map:\n")
	for _, r := range a.Regions() {
		kfmt.Logf(kfmt.LevelInfo, "\t[0x%10x - 0x%10x], size: %10d\n", r.Start, r.End(), r.Size)
	}
	kfmt.Logf(kfmt.LevelInfo, "[pmm] kernel reserved 0x%x - 0x%x, %d pages\n",
		a.kernelStart, a.kernelEnd,
		(a.kernelEnd-a.kernelStart)>>mm.PageShift,
	)
	kfmt.Logf(kfmt.LevelInfo, "[pmm] capacity: %dKb, free: %dKb\n",
		uint64(a.Capacity()/mm.Kb),
		uint64(a.Free()/mm.Kb),
	)
}
