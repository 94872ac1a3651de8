package cpu

// Halt stops instruction execution.
func Halt()

// FlushTLB invalidates every cached address translation on this hart.
func FlushTLB()

// FlushTLBEntry flushes the cached translation for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// EnableTranslation writes satp without flushing the TLB. It is used once,
// by the boot page table, while the hart still executes from its physical
// load address.
//
//go:nosplit
func EnableTranslation(satp uint64)

// SwitchTranslation installs a new satp value and flushes the TLB.
func SwitchTranslation(satp uint64)

// ActiveTranslation returns the current value of the satp register.
func ActiveTranslation() uint64

// SetSupervisorStatus sets the supplied bits in sstatus and returns the
// resulting register value.
func SetSupervisorStatus(bits uint64) uint64

// JumpHigher adds offset to the stack pointer, to the g register, to the
// return address and to the caller's saved return address, so that
// execution resumes inside the linear window once the caller returns. It must be called directly (never
// through a function value) immediately after EnableTranslation.
//
//go:nosplit
func JumpHigher(offset uintptr)
