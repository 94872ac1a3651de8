package kmain

// rt0 is the image entry point; the linker script places it at _start.
func rt0()
