package device

import (
	"io"
	"rvgopher/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprint.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

// The supported detection orders.
const (
	// DetectOrderEarly is used by drivers that the kernel needs before
	// anything else, like the firmware console.
	DetectOrderEarly DetectOrder = -128 + iota

	// DetectOrderBeforeFDT is used by drivers that do not depend on the
	// device tree.
	DetectOrderBeforeFDT

	// DetectOrderFDT is used by drivers discovered through the device tree.
	DetectOrderFDT DetectOrder = 0

	// DetectOrderLast is used by drivers that should be probed last.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is used by device drivers to register themselves.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection process this
	// driver's probe function should be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of the hardware
	// handled by the driver.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers in detection order.
type DriverInfoList []*DriverInfo

// maxDrivers bounds the registry so that registration never allocates.
const maxDrivers = 16

var (
	registeredDrivers     [maxDrivers]*DriverInfo
	registeredDriverCount int

	errTooManyDrivers = &kernel.Error{Module: "device", Message: "driver registry is full"}
)

// RegisterDriver adds the supplied driver info to the registry keeping the
// registry ordered by DetectOrder. Drivers with equal order keep their
// registration order.
func RegisterDriver(info *DriverInfo) *kernel.Error {
	if registeredDriverCount == maxDrivers {
		return errTooManyDrivers
	}

	i := registeredDriverCount
	for ; i > 0 && registeredDrivers[i-1].Order > info.Order; i-- {
		registeredDrivers[i] = registeredDrivers[i-1]
	}
	registeredDrivers[i] = info
	registeredDriverCount++
	return nil
}

// DriverList returns the registered drivers ordered by DetectOrder.
func DriverList() DriverInfoList {
	return DriverInfoList(registeredDrivers[:registeredDriverCount])
}

// resetRegistry is used by tests.
func resetRegistry() {
	registeredDrivers = [maxDrivers]*DriverInfo{}
	registeredDriverCount = 0
}
