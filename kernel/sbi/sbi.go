// Package sbi wraps the two supervisor binary interface calls the kernel
// relies on: writing a byte to the firmware console and resetting the system.
package sbi

import "rvgopher/kernel"

// Extension identifiers.
const (
	extConsolePutchar = uintptr(0x01)
	extSystemReset    = uintptr(0x53525354) // "SRST"
)

// ResetType selects the kind of system reset requested from the firmware.
type ResetType uint32

// Supported reset types.
const (
	ResetShutdown ResetType = iota
	ResetColdReboot
	ResetWarmReboot
)

// ResetReason is reported to the firmware together with a reset request.
type ResetReason uint32

// Supported reset reasons.
const (
	ReasonNone ResetReason = iota
	ReasonSystemFailure
)

var (
	// ecallFn is used by tests to intercept firmware calls.
	ecallFn = ecall

	errNotSupported = &kernel.Error{Module: "sbi", Message: "call not supported by firmware"}
	errFailed       = &kernel.Error{Module: "sbi", Message: "firmware call failed"}
)

// ConsolePutchar writes a single byte to the firmware debug console using
// the legacy console extension.
func ConsolePutchar(ch byte) {
	ecallFn(extConsolePutchar, 0, uintptr(ch), 0, 0)
}

// SystemReset asks the firmware to reset the system. On success the call
// does not return; otherwise the firmware error is returned.
func SystemReset(resetType ResetType, reason ResetReason) *kernel.Error {
	errCode, _ := ecallFn(extSystemReset, 0, uintptr(resetType), uintptr(reason), 0)
	return mapError(errCode)
}

// Shutdown powers the system off reporting a clean exit.
func Shutdown() *kernel.Error {
	return SystemReset(ResetShutdown, ReasonNone)
}

// Fail powers the system off reporting a system failure.
func Fail() *kernel.Error {
	return SystemReset(ResetShutdown, ReasonSystemFailure)
}

// mapError converts an SBI error code into a kernel error.
func mapError(code uintptr) *kernel.Error {
	switch int64(code) {
	case 0:
		return nil
	case -2:
		return errNotSupported
	default:
		return errFailed
	}
}
