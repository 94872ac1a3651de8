// Package kmain brings up the kernel's memory subsystem.
package kmain

import (
	"rvgopher/kernel"
	"rvgopher/kernel/goruntime"
	"rvgopher/kernel/hal"
	"rvgopher/kernel/kfmt"
	"rvgopher/kernel/mm/boot"
	"rvgopher/kernel/mm/heap"
	"rvgopher/kernel/mm/layout"
	"rvgopher/kernel/mm/pmm"
	"rvgopher/kernel/mm/vmm"
	"rvgopher/kernel/sbi"
)

var (
	// ctx lives in the bss, so nothing may be stored in it before the bss
	// has been cleared.
	ctx Context

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// logLevel names the console level and is set at link time with
	// -ldflags "-X rvgopher/kernel/kmain.logLevel=debug".
	logLevel string
)

// Context owns the state of the memory subsystem. Consumers get pointers to
// its fields rather than reaching for package globals.
type Context struct {
	Layout layout.Layout
	Frames pmm.FrameAllocator
	Heap   heap.Heap
	Pages  pmm.FrameManager

	// Space is the final kernel address space.
	Space *vmm.AddressSpace[*pmm.FrameManager]
}

// Kmain is the only Go symbol the rt0 code calls. The firmware passes the
// boot hart id and the physical address of the device tree; rt0 places the
// boot stack right after the image.
//
// Until boot.(*PageTable).Launch returns, the code runs at its physical load
// address while being linked high, so it may only make direct calls.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// hart.
//
//go:noinline
func Kmain(hartID, dtbAddr uintptr) {
	var l layout.Layout
	l.Locate()

	bootTable := boot.New(l.BootPTRoot())
	bootTable.Launch(l.PStart(), l.Offset())

	l.ZeroBSS()
	ctx.Layout = l

	hal.DetectHardware()
	setLogLevel(logLevel)
	kfmt.Logf(kfmt.LevelInfo, "[kmain] hart %d, kernel image at 0x%x - 0x%x\n", hartID, l.PStart(), l.KernelEnd())

	if err := ctx.Init(dtbAddr); err != nil {
		panic(err)
	}

	bootTable.Discard(&ctx.Frames, ctx.Layout.Offset())
	kfmt.Logf(kfmt.LevelDebug, "[kmain] boot page table released\n")

	if err := sbi.Shutdown(); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// Init builds the memory subsystem on top of c.Layout, which must be located
// and running from the linear window. It seeds the frame pool from the
// device tree at the physical address dtbAddr, sets up the heap and the Go
// runtime bridge, then constructs and activates the kernel address space.
func (c *Context) Init(dtbAddr uintptr) *kernel.Error {
	top, err := c.Frames.InitGlobal(&c.Layout, dtbAddr)
	if err != nil {
		return err
	}
	c.Layout.SetTop(top)
	c.Frames.PrintMemoryMap()

	c.Heap.Init(c.Layout.Start(), &c.Frames)
	if err = goruntime.Init(&c.Heap, &c.Frames); err != nil {
		return err
	}

	c.Pages.Init(&c.Frames, &c.Heap, c.Layout.Offset())

	space := vmm.New(&c.Pages)
	if err = space.Kernel(&c.Layout, vmm.FlagsKernel); err != nil {
		return err
	}
	space.Dump(kfmt.LevelSink(kfmt.LevelDebug))
	space.Activate()
	c.Space = space

	kfmt.Logf(kfmt.LevelInfo, "[kmain] kernel address space active, satp 0x%x\n", space.SATP())
	return nil
}

// setLogLevel applies the level named by name. An empty name keeps the
// default level; an unknown one is reported and ignored.
func setLogLevel(name string) {
	if name == "" {
		return
	}

	level, ok := kfmt.ParseLevel(name)
	if !ok {
		kfmt.Logf(kfmt.LevelWarn, "[kmain] unknown log level %s, keeping %s\n", name, kfmt.ActiveLevel().String())
		return
	}
	kfmt.SetLevel(level)
	kfmt.Logf(kfmt.LevelDebug, "[kmain] log level %s\n", level.String())
}
