//go:build !riscv64

package cpu

// hostState models the CSRs touched by the memory subsystem when the kernel
// packages run on a development host.
var hostState struct {
	satp    uint64
	sstatus uint64
	flushes int
	jumps   []uintptr
}

// Halt stops instruction execution.
func Halt() {}

// FlushTLB invalidates every cached address translation on this hart.
func FlushTLB() { hostState.flushes++ }

// FlushTLBEntry flushes the cached translation for a particular virtual address.
func FlushTLBEntry(_ uintptr) { hostState.flushes++ }

// EnableTranslation writes satp without flushing the TLB.
func EnableTranslation(satp uint64) { hostState.satp = satp }

// SwitchTranslation installs a new satp value and flushes the TLB.
func SwitchTranslation(satp uint64) {
	hostState.satp = satp
	hostState.flushes++
}

// ActiveTranslation returns the current value of the satp register.
func ActiveTranslation() uint64 { return hostState.satp }

// SetSupervisorStatus sets the supplied bits in sstatus and returns the
// resulting register value.
func SetSupervisorStatus(bits uint64) uint64 {
	hostState.sstatus |= bits
	return hostState.sstatus
}

// JumpHigher records the requested relocation; host stacks are never moved.
func JumpHigher(offset uintptr) { hostState.jumps = append(hostState.jumps, offset) }

// HostJumps returns the offsets passed to JumpHigher since the last call to
// ResetHost.
func HostJumps() []uintptr { return hostState.jumps }

// HostFlushes returns the number of TLB flushes since the last ResetHost.
func HostFlushes() int { return hostState.flushes }

// ResetHost clears the modelled register state.
func ResetHost() {
	hostState.satp, hostState.sstatus, hostState.flushes = 0, 0, 0
	hostState.jumps = nil
}
