// Package goruntime backs the Go runtime's requests for operating system
// memory with the kernel heap and the frame pool. The functions in this file
// replace their runtime counterparts through the redirect table.
package goruntime

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
	"unsafe"
)

// KernelHeap serves runtime requests smaller than a page.
type KernelHeap interface {
	Alloc(size, align uintptr) uintptr
	Free(addr, size, align uintptr)
}

// FramePool serves page sized runtime requests.
type FramePool interface {
	Allocate(size, align uintptr) (uintptr, uintptr, *kernel.Error)
	AllocFrames(n uintptr) uintptr
	FreeFrames(addr, n uintptr)
}

const smallAlign = 8

var (
	kernelHeap KernelHeap
	framePool  FramePool

	memsetFn        = kernel.Memset
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// accounting for the bytes handed to the runtime
	allocated, reserved, mapped uintptr

	// keepAlive is never set; it only stops the linker from dropping the
	// redirect targets.
	keepAlive bool

	// A seed for the pseudo-random number generator used by readRandom
	prngSeed = 0xdeadc0de

	errNotReady = &kernel.Error{Module: "goruntime", Message: "runtime memory requested before Init"}
)

// Init routes the runtime's memory requests to heap and frames and then
// enables the runtime features that depend on them:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
func Init(heap KernelHeap, frames FramePool) *kernel.Error {
	kernelHeap, framePool = heap, frames
	allocated, reserved, mapped = 0, 0, 0

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	if keepAlive {
		var zero unsafe.Pointer
		sysFreeOS(sysAllocOS(0), 0)
		sysMapOS(sysReserveOS(zero, 0), 0)
		sysUsedOS(zero, 0)
		sysUnusedOS(zero, 0)
		readRandom(nil)
		nanotime1()
	}
	return nil
}

func pages(size uintptr) uintptr {
	return mm.AlignUp(size, mm.PageSize) >> mm.PageShift
}

// sysAllocOS returns n bytes of zeroed memory ready for use.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(n uintptr) unsafe.Pointer {
	if framePool == nil {
		panic(errNotReady)
	}

	var addr uintptr
	if n < mm.PageSize {
		addr = kernelHeap.Alloc(n, smallAlign)
		memsetFn(addr, 0, n)
	} else {
		addr = framePool.AllocFrames(pages(n))
		memsetFn(addr, 0, pages(n)<<mm.PageShift)
	}

	allocated += n
	return unsafe.Pointer(addr)
}

// sysFreeOS returns memory obtained from sysAllocOS or sysReserveOS.
//
//go:redirect-from runtime.sysFreeOS
//go:nosplit
func sysFreeOS(v unsafe.Pointer, n uintptr) {
	if v == nil {
		return
	}

	if n < mm.PageSize {
		kernelHeap.Free(uintptr(v), n, smallAlign)
	} else {
		framePool.FreeFrames(uintptr(v), pages(n))
	}
	allocated -= n
}

// sysReserveOS sets aside whole frames for the runtime. The hint v is
// ignored since every frame already has a fixed linear address; failure is
// reported with nil so the runtime can retry with a smaller request.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(_ unsafe.Pointer, n uintptr) unsafe.Pointer {
	if framePool == nil {
		panic(errNotReady)
	}

	size := pages(n) << mm.PageShift
	if size == 0 {
		return nil
	}

	addr, blockSize, err := framePool.Allocate(size, mm.PageSize)
	if err != nil {
		return nil
	}
	if blockSize > size {
		framePool.FreeFrames(addr+size, (blockSize-size)>>mm.PageShift)
	}

	reserved += size
	return unsafe.Pointer(addr)
}

// sysMapOS prepares reserved memory for use. The frames are reachable
// through the linear window already, so they only need to be cleared.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(v unsafe.Pointer, n uintptr) {
	if v == nil || n == 0 {
		return
	}

	memsetFn(uintptr(v), 0, n)
	mapped += n
}

// sysUsedOS and sysUnusedOS are paging hints; memory is never paged out.
//
//go:redirect-from runtime.sysUsedOS
//go:nosplit
func sysUsedOS(_ unsafe.Pointer, _ uintptr) {}

//go:redirect-from runtime.sysUnusedOS
//go:nosplit
func sysUnusedOS(_ unsafe.Pointer, _ uintptr) {}

// nanotime1 returns a monotonically increasing dummy clock value until a
// timer driver exists.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// readRandom fills r from a prng since no entropy source is available.
//
//go:redirect-from runtime.readRandom
func readRandom(r []byte) int {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
	return len(r)
}

// Stats reports the bytes currently allocated, reserved and mapped on
// behalf of the runtime.
func Stats() (alloc, reserve, mapping uintptr) {
	return allocated, reserved, mapped
}
