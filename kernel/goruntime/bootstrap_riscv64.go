package goruntime

import (
	_ "unsafe" // required for go:linkname
)

// The kernel image is linked with -checklinkname=0 so these references to
// runtime internals resolve.

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()
