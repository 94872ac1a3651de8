package fdt

import (
	"rvgopher/kernel"
	"strings"
	"unsafe"
)

const (
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// Region is a range of physical memory described by a memory node.
type Region struct {
	Start, Size uintptr
}

// End returns the first address past the region.
func (r Region) End() uintptr { return r.Start + r.Size }

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// VisitMemRegions calls visitor for every reg entry of the root level nodes
// whose name starts with "memory". Cell sizes come from the root node.
func (t *Tree) VisitMemRegions(visitor func(Region)) *kernel.Error {
	var (
		addressCells uint32 = defaultAddressCells
		sizeCells    uint32 = defaultSizeCells
		decodeErr    *kernel.Error
	)

	walkErr := t.Walk(func(path *Path, item Item) Step {
		switch {
		case item.Kind == ItemNode:
			if path.IsRoot() && strings.HasPrefix(item.Name, "memory") {
				return StepInto
			}
			return StepOver
		case path.IsRoot():
			switch item.Name {
			case "#address-cells":
				if v, ok := item.Uint32(); ok {
					addressCells = v
				}
			case "#size-cells":
				if v, ok := item.Uint32(); ok {
					sizeCells = v
				}
			}
			return StepOver
		case item.Name == "reg":
			if decodeErr = decodeReg(item.Value, addressCells, sizeCells, visitor); decodeErr != nil {
				return Stop
			}
			return StepOut
		default:
			return StepOver
		}
	})

	if walkErr != nil {
		return walkErr
	}
	return decodeErr
}

func decodeReg(value []byte, addressCells, sizeCells uint32, visitor func(Region)) *kernel.Error {
	if addressCells == 0 || addressCells > 2 || sizeCells > 2 {
		return errBadCells
	}

	entry := int(addressCells+sizeCells) * 4
	for off := 0; off+entry <= len(value); off += entry {
		cells := uintptr(unsafe.Pointer(&value[off]))
		visitor(Region{
			Start: readCells(cells, addressCells),
			Size:  readCells(cells+uintptr(addressCells)*4, sizeCells),
		})
	}
	return nil
}

func readCells(addr uintptr, count uint32) uintptr {
	var v uintptr
	for i := uint32(0); i < count; i++ {
		v = v<<32 | uintptr(be32(addr+uintptr(i)*4))
	}
	return v
}
