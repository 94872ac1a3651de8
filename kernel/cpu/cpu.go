// Package cpu exposes the supervisor-mode RISC-V primitives used by the
// memory subsystem. On riscv64 the functions are implemented in assembly; on
// every other architecture they operate on a software model of the relevant
// CSRs so that callers can be exercised by host tests.
package cpu

const (
	// SATPModeSv39 is the satp MODE field value selecting Sv39 translation.
	SATPModeSv39 = uint64(8)

	// SATPModeShift is the bit position of the satp MODE field.
	SATPModeShift = 60

	// SATPASIDShift is the bit position of the satp ASID field.
	SATPASIDShift = 44

	// SStatusSUM is the sstatus bit that permits supervisor access to
	// pages marked as user accessible.
	SStatusSUM = uint64(1 << 18)
)

// SATP assembles a satp value for the given mode, address-space identifier
// and root page table physical page number.
func SATP(mode, asid uint64, rootPPN uintptr) uint64 {
	return mode<<SATPModeShift | (asid&0xffff)<<SATPASIDShift | uint64(rootPPN)&((1<<44)-1)
}
