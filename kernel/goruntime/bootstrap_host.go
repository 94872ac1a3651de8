//go:build !riscv64

package goruntime

// The host runtime is initialized by the Go toolchain's own entry point.

func mallocInit()    {}
func algInit()       {}
func modulesInit()   {}
func typeLinksInit() {}
func itabsInit()     {}
