package layout

// linkedSymbols returns the addresses of _start, _bss and _end as seen from
// the currently executing code.
//
//go:nosplit
func linkedSymbols() (start, bss, end uintptr)
