//go:build !riscv64

package layout

// hostSymbols stands in for the linker symbols on a development host where
// no kernel image is loaded. Tests use LocateAt instead.
var hostSymbols = [3]uintptr{0x80200000, 0x80300000, 0x80400000}

func linkedSymbols() (start, bss, end uintptr) {
	return hostSymbols[0], hostSymbols[1], hostSymbols[2]
}
