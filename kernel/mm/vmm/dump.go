package vmm

import (
	"io"
	"rvgopher/kernel/kfmt"
	"rvgopher/kernel/mm"
)

// Dump writes the segments of the address space followed by every valid
// entry reachable from the root table.
func (as *AddressSpace[M]) Dump(w io.Writer) {
	kfmt.Fprintf(w, "address space @ frame 0x%x\n", uintptr(as.RootFrame()))
	kfmt.Fprintf(w, "segments (%d):\n", as.segments.len())
	as.segments.visit(func(seg Segment) bool {
		kfmt.Fprintf(w, "  [0x%16x, 0x%16x) %d pages\n", seg.Start.Address(), seg.End.Address(), uint64(seg.Pages()))
		return true
	})

	kfmt.Fprintf(w, "page table:\n")
	var indices [pageLevels]uintptr
	dumpTable(w, as.root, 0, &indices, as.resolve)
}

// indent holds the per-level prefix used by dumpTable.
var indent = [pageLevels]string{"  ", "    ", "      "}

func dumpTable(w io.Writer, table *PageTable, level uint8, indices *[pageLevels]uintptr, resolve TableResolver) {
	var flagBuf [8]byte

	for index, pte := range table {
		if !pte.Valid() {
			continue
		}

		indices[level] = uintptr(index)
		kfmt.Fprintf(w, "%s[%3d] 0x%16x", indent[level], index, addrFromIndices(indices, level))

		if !pte.IsLeaf() && level < pageLevels-1 {
			kfmt.Fprintf(w, " -> table @ frame 0x%x\n", uintptr(pte.Frame()))
			dumpTable(w, resolve(pte.Frame()), level+1, indices, resolve)
			continue
		}

		kfmt.Fprintf(w, " -> 0x%x %s %dKb\n",
			pte.Frame().Address(),
			pte.Flags().Format(&flagBuf),
			uint64(mm.Size(LevelSize(level))/mm.Kb),
		)
	}
	indices[level] = 0
}
