// Package sbicon provides a console driver on top of the SBI legacy debug
// console.
package sbicon

import (
	"io"
	"rvgopher/device"
	"rvgopher/kernel"
	"rvgopher/kernel/kfmt"
	"rvgopher/kernel/sbi"
)

var (
	// putcharFn is used by tests to capture console output.
	putcharFn = sbi.ConsolePutchar

	probeInfo = device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: Probe,
	}
)

// Console writes to the firmware console one byte at a time.
type Console struct {
	written uint64
}

// Write implements io.Writer. \n is expanded to \r\n as the firmware console
// is a raw serial line.
func (c *Console) Write(p []byte) (int, error) {
	for _, ch := range p {
		if ch == '\n' {
			putcharFn('\r')
		}
		putcharFn(ch)
	}
	c.written += uint64(len(p))
	return len(p), nil
}

// BytesWritten returns the number of payload bytes sent to the firmware.
func (c *Console) BytesWritten() uint64 { return c.written }

// DriverName returns the name of the driver.
func (*Console) DriverName() string { return "sbi_console" }

// DriverVersion returns the driver version.
func (*Console) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit initializes the driver.
func (c *Console) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "legacy putchar extension\n")
	return nil
}

var console Console

// Probe returns the firmware console driver. The SBI console needs no
// discovery; it exists on every platform the kernel boots on.
func Probe() device.Driver {
	return &console
}

// DriverInfo returns the registration record for this driver.
func DriverInfo() *device.DriverInfo {
	return &probeInfo
}
