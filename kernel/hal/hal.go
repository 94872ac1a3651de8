// Package hal probes the drivers the kernel ships with and connects the
// first console driver to kfmt.
package hal

import (
	"io"
	"rvgopher/device"
	"rvgopher/device/sbicon"
	"rvgopher/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole io.Writer
}

// lineBuf is a fixed-capacity io.Writer used to build driver log prefixes
// without touching the allocator.
type lineBuf struct {
	buf [64]byte
	len int
}

func (b *lineBuf) Write(p []byte) (int, error) {
	n := copy(b.buf[b.len:], p)
	b.len += n
	return n, nil
}

func (b *lineBuf) Bytes() []byte { return b.buf[:b.len] }

func (b *lineBuf) Reset() { b.len = 0 }

var (
	devices managedDevices
	prefix  lineBuf

	// builtinDrivers lists the registration records of the drivers linked
	// into the kernel. Package init functions do not run in the kernel
	// image so drivers are registered explicitly.
	builtinDrivers = []func() *device.DriverInfo{
		sbicon.DriverInfo,
	}

	// registerDriverFn and driverListFn are used by tests.
	registerDriverFn = device.RegisterDriver
	driverListFn     = device.DriverList
)

// DetectHardware registers the built-in drivers, probes them in detection
// order and initializes the ones that are present.
func DetectHardware() {
	for _, infoFn := range builtinDrivers {
		if err := registerDriverFn(infoFn()); err != nil {
			kfmt.Printf("[hal] %s\n", err.Message)
		}
	}

	probe(driverListFn())
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.ActiveSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		prefix.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&prefix, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = prefix.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		onDriverInit(drv)
		kfmt.Fprintf(&w, "initialized\n")
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first driver that is also an io.Writer
// becomes the kfmt output sink and receives the buffered early output.
func onDriverInit(drv device.Driver) {
	cons, ok := drv.(io.Writer)
	if !ok || devices.activeConsole != nil {
		return
	}

	devices.activeConsole = cons
	kfmt.SetOutputSink(cons)
}
