// Package layout locates the kernel image in physical memory and converts
// addresses between the physical space and the linear kernel window.
package layout

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
)

const (
	// LinkedBase is the virtual address the kernel image is linked at. The
	// linker script places _start here.
	LinkedBase = uintptr(0xffffffc080200000)

	// BootStackSize is the capacity of the boot stack that rt0 places
	// right after the end of the kernel image.
	BootStackSize = 4 * mm.PageSize

	// unsetTop marks a layout whose top has not been recorded yet.
	unsetTop = ^uintptr(0)
)

var (
	errRelocated     = &kernel.Error{Module: "layout", Message: "kernel image located twice at different addresses"}
	errTopAlreadySet = &kernel.Error{Module: "layout", Message: "top of linear memory already set"}
	errTopUnset      = &kernel.Error{Module: "layout", Message: "top of linear memory read before it was set"}
	errBadSymbols    = &kernel.Error{Module: "layout", Message: "linker symbols out of order"}
)

// Layout describes where the kernel image was loaded and how the physical
// address space maps onto the linear window. The zero value is unlocated.
//
// A Layout is a plain value with no pointers so that it can live on the boot
// stack until the bss is cleared.
type Layout struct {
	located bool

	// physical addresses of the image as reported by the linker symbols
	pbase, pbss, pend uintptr

	// offset is added to a physical address to obtain its linear address.
	offset uintptr

	// top is the highest linear address backed by usable memory.
	top uintptr
}

// Locate reads the _start, _bss and _end linker symbols and records the
// layout. It must be called while the hart still executes from its physical
// load address; the symbols are resolved PC-relatively so they reflect the
// running address space.
//
//go:nosplit
func (l *Layout) Locate() {
	start, bss, end := linkedSymbols()
	l.LocateAt(start, bss, end)
}

// LocateAt records a layout for an image loaded at start whose bss spans
// [bss, end). Locating an already located layout at a different address
// panics.
//
//go:nosplit
func (l *Layout) LocateAt(start, bss, end uintptr) {
	l.LocateLinked(start, bss, end, LinkedBase)
}

// LocateLinked is like LocateAt for an image whose start is linked at
// linkedBase instead of LinkedBase.
//
//go:nosplit
func (l *Layout) LocateLinked(start, bss, end, linkedBase uintptr) {
	if start > bss || bss > end {
		panic(errBadSymbols)
	}

	offset := linkedBase - start
	if l.located {
		if l.offset != offset || l.pbase != start {
			panic(errRelocated)
		}
		return
	}

	l.located = true
	l.pbase, l.pbss, l.pend = start, bss, end
	l.offset = offset
	l.top = unsetTop
}

// Located reports whether Locate has been called.
func (l *Layout) Located() bool { return l.located }

// Offset returns the value added to physical addresses to obtain their
// linear virtual address.
func (l *Layout) Offset() uintptr { return l.offset }

// PStart returns the physical address of the start of the kernel image.
func (l *Layout) PStart() uintptr { return l.pbase }

// Start returns the linear address of the start of the kernel image.
func (l *Layout) Start() uintptr { return l.PToV(l.pbase) }

// KernelEnd returns the physical address of the end of the kernel image.
func (l *Layout) KernelEnd() uintptr { return l.pend }

// BootStackTop returns the physical address of the top of the boot stack.
func (l *Layout) BootStackTop() uintptr { return l.pend + BootStackSize }

// BootPTRoot returns the physical address of the page that holds the boot
// page table: the first page boundary past the boot stack.
func (l *Layout) BootPTRoot() uintptr {
	return mm.AlignUp(l.pend+BootStackSize, mm.PageSize)
}

// PToV converts a physical address to its linear virtual address.
func (l *Layout) PToV(p uintptr) uintptr { return p + l.offset }

// VToP converts a linear virtual address to its physical address.
func (l *Layout) VToP(v uintptr) uintptr { return v - l.offset }

// ZeroBSS clears the kernel's bss through the linear window.
func (l *Layout) ZeroBSS() {
	kernel.Memset(l.PToV(l.pbss), 0, l.pend-l.pbss)
}

// SetTop records the highest linear address backed by usable memory. It may
// only be called once.
func (l *Layout) SetTop(top uintptr) {
	if l.top != unsetTop {
		panic(errTopAlreadySet)
	}
	l.top = top
}

// Top returns the value recorded by SetTop.
func (l *Layout) Top() uintptr {
	if l.top == unsetTop {
		panic(errTopUnset)
	}
	return l.top
}

// HasTop reports whether SetTop has been called.
func (l *Layout) HasTop() bool { return l.located && l.top != unsetTop }

// PTop returns the physical address that corresponds to Top.
func (l *Layout) PTop() uintptr { return l.VToP(l.Top()) }
