package main

import "rvgopher/kernel/kmain"

var hartID, dtbAddr uintptr

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated object
// file. The image itself is entered through kmain's rt0.
func main() {
	kmain.Kmain(hartID, dtbAddr)
}
