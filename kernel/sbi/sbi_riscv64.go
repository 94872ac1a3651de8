package sbi

// ecall traps into the firmware with the extension id in a7, the function id
// in a6 and up to three arguments. It returns the a0 (error) and a1 (value)
// registers.
func ecall(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr)
