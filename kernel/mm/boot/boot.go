// Package boot builds the transient page table that moves the kernel from
// its physical load address into the linear window.
package boot

import (
	"rvgopher/kernel"
	"rvgopher/kernel/cpu"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/vmm"
)

const (
	// LinearWindows is the number of 1 GiB entries mapped by the boot
	// table, covering physical addresses [0, 128 GiB).
	LinearWindows = 128

	// Flags is applied to the trampoline and to every linear entry.
	Flags = vmm.FlagsKernel
)

// State tracks the lifecycle of a boot page table.
type State uint8

// The lifecycle states of a boot page table.
const (
	StateUnmapped State = iota
	StateMapped
	StateLaunched
	StateDiscarded
)

var (
	errMisalignedTable  = &kernel.Error{Module: "boot_pt", Message: "boot page table is not page aligned"}
	errMisalignedOffset = &kernel.Error{Module: "boot_pt", Message: "linear window offset is not aligned to 1 GiB"}
	errMisalignedBase   = &kernel.Error{Module: "boot_pt", Message: "kernel load address is not page aligned"}
	errBadState         = &kernel.Error{Module: "boot_pt", Message: "boot page table used out of order"}
)

// PageTable is the one-page top-level table used to enable translation.
// Until Launch returns it is addressed physically; afterwards through the
// trampoline entry, which aliases the same memory.
type PageTable struct {
	addr  uintptr
	state State
}

// New wraps the page at addr. The page does not have to be cleared: Launch
// writes every entry.
//
//go:nosplit
func New(addr uintptr) PageTable {
	if !mm.IsAligned(addr, mm.PageSize) {
		panic(errMisalignedTable)
	}
	return PageTable{addr: addr}
}

// Addr returns the address the table was created with.
func (pt *PageTable) Addr() uintptr { return pt.addr }

// State returns the lifecycle state of the table.
func (pt *PageTable) State() State { return pt.state }

// Map fills the table: an identity trampoline entry covering the gigabyte
// that contains pbase and LinearWindows entries mapping physical gigabyte i
// at offset + i GiB. Entries past the end of the table are dropped.
//
//go:nosplit
func (pt *PageTable) Map(pbase, offset uintptr) {
	if pt.state != StateUnmapped {
		panic(errBadState)
	}
	if !mm.IsAligned(offset, vmm.SuperpageSize) {
		panic(errMisalignedOffset)
	}
	if !mm.IsAligned(pbase, mm.PageSize) {
		panic(errMisalignedBase)
	}

	table := vmm.TableAt(pt.addr)
	for i := range table {
		table[i] = 0
	}

	trampoline := vmm.TopLevelIndex(pbase)
	table[trampoline] = vmm.NewEntry(mm.Frame(trampoline*vmm.SuperpageFrames), Flags)

	base := vmm.TopLevelIndex(offset)
	for i := uintptr(0); i < LinearWindows && base+i < vmm.EntriesPerTable; i++ {
		table[base+i] = vmm.NewEntry(mm.Frame(i*vmm.SuperpageFrames), Flags)
	}

	pt.state = StateMapped
}

// Launch maps the table, turns on Sv39 translation with it and moves the
// caller's stack and return path into the linear window. When Launch returns
// the caller runs at its linked address. The resulting sstatus value, with
// supervisor access to user pages enabled, is returned.
//
// Launch must be called directly from the function whose frame should be
// relocated and nothing on the stack may hold pointers into it.
//
//go:nosplit
//go:noinline
func (pt *PageTable) Launch(pbase, offset uintptr) uint64 {
	pt.Map(pbase, offset)

	// Neither call below may go through a function value: the table of
	// function values lives at linked addresses that are not mapped until
	// translation is on.
	cpu.EnableTranslation(cpu.SATP(cpu.SATPModeSv39, 0, uintptr(mm.FrameFromAddress(pt.addr))))
	pt.state = StateLaunched
	cpu.JumpHigher(offset)

	return cpu.SetSupervisorStatus(cpu.SStatusSUM)
}

// FrameReleaser accepts a region of physical memory, addressed through the
// linear window.
type FrameReleaser interface {
	Transfer(addr, size uintptr)
}

// Discard hands the table's page to pool once a replacement address space
// is active. offset is the linear window offset passed to Launch. Cached
// translations that came from the table are dropped before its page can be
// reused.
func (pt *PageTable) Discard(pool FrameReleaser, offset uintptr) {
	if pt.state != StateLaunched {
		panic(errBadState)
	}
	cpu.FlushTLB()
	pool.Transfer(pt.addr+offset, mm.PageSize)
	pt.state = StateDiscarded
}
