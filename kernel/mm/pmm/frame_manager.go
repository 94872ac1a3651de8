package pmm

import (
	"rvgopher/kernel"
	"rvgopher/kernel/mm"
	"rvgopher/kernel/mm/vmm"
	"unsafe"
)

const (
	// shareLeafFrames is the number of frames one counter page covers.
	shareLeafFrames = mm.PageSize / 2

	// shareDirEntries counter pages cover physical memory below 128 GiB.
	shareDirEntries = 16384
)

var (
	errFrameOutOfRange = &kernel.Error{Module: "pmm", Message: "frame beyond the share table range"}
	errShareOverflow   = &kernel.Error{Module: "pmm", Message: "share count overflow"}
)

// LeafSource supplies the memory for share counter pages.
type LeafSource interface {
	Alloc(size, align uintptr) uintptr
}

// FrameManager hands out frames from a FrameAllocator to address spaces and
// tracks how many extra owners each shared frame has. It satisfies
// vmm.PageManager.
type FrameManager struct {
	frames *FrameAllocator
	leaves LeafSource
	offset uintptr

	// dir holds the linear addresses of counter pages; each counter page
	// is an array of shareLeafFrames uint16 counts.
	dir [shareDirEntries]uintptr
}

var _ vmm.PageManager = (*FrameManager)(nil)

// Init binds the manager to the frame pool, the source of its counter pages
// and the linear window offset.
func (m *FrameManager) Init(frames *FrameAllocator, leaves LeafSource, offset uintptr) {
	m.frames, m.leaves, m.offset = frames, leaves, offset
	for i := range m.dir {
		m.dir[i] = 0
	}
}

// Allocate returns pages zero-filled contiguous frames.
func (m *FrameManager) Allocate(flags vmm.PageTableEntryFlag, pages uintptr) vmm.PageTableEntry {
	addr := m.frames.AllocFrames(pages)
	kernel.Memset(addr, 0, pages*mm.PageSize)
	return vmm.NewEntry(m.VirtToPhys(addr), flags|vmm.FlagValid)
}

// Deallocate drops one owner from every frame behind pte. Frames without
// other owners go back to the pool.
func (m *FrameManager) Deallocate(pte vmm.PageTableEntry, pages uintptr) {
	base := pte.Frame()
	for i := uintptr(0); i < pages; i++ {
		frame := base + mm.Frame(i)
		if counter := m.counter(frame, false); counter != nil && *counter > 0 {
			*counter--
			continue
		}
		m.frames.FreeFrames(m.PhysToVirt(frame), 1)
	}
}

// Share adds an owner to every frame behind pte. Writable entries are
// downgraded to copy-on-write for both owners.
func (m *FrameManager) Share(pte vmm.PageTableEntry, pages uintptr) (vmm.PageTableEntry, vmm.PageTableEntry) {
	base := pte.Frame()
	for i := uintptr(0); i < pages; i++ {
		counter := m.counter(base+mm.Frame(i), true)
		if *counter == ^uint16(0) {
			panic(errShareOverflow)
		}
		*counter++
	}

	if pte.HasFlags(vmm.FlagWrite) {
		pte.ClearFlags(vmm.FlagWrite)
		pte.SetFlags(vmm.FlagCopyOnWrite)
	}
	return pte, pte
}

// Exclude gives the caller sole ownership of the frames behind pte. Unshared
// frames are reused in place; otherwise the contents are copied into fresh
// frames and the caller's reference to the old ones is dropped.
func (m *FrameManager) Exclude(pte vmm.PageTableEntry, pages uintptr) vmm.PageTableEntry {
	if m.Shared(pte.Frame(), pages) {
		size := pages * mm.PageSize
		dst := m.frames.AllocFrames(pages)
		kernel.Memcopy(m.PhysToVirt(pte.Frame()), dst, size)
		m.Deallocate(pte, pages)
		pte.SetFrame(m.VirtToPhys(dst))
	}

	if pte.HasFlags(vmm.FlagCopyOnWrite) {
		pte.ClearFlags(vmm.FlagCopyOnWrite)
		pte.SetFlags(vmm.FlagWrite)
	}
	return pte
}

// Shared reports whether any of the pages frames starting at base has more
// than one owner.
func (m *FrameManager) Shared(base mm.Frame, pages uintptr) bool {
	for i := uintptr(0); i < pages; i++ {
		if m.Owners(base+mm.Frame(i)) > 1 {
			return true
		}
	}
	return false
}

// Owners returns the number of owners of frame.
func (m *FrameManager) Owners(frame mm.Frame) uintptr {
	if counter := m.counter(frame, false); counter != nil {
		return uintptr(*counter) + 1
	}
	return 1
}

// PhysToVirt returns the linear address of frame.
func (m *FrameManager) PhysToVirt(frame mm.Frame) uintptr {
	return frame.Address() + m.offset
}

// VirtToPhys returns the frame behind the linear address addr.
func (m *FrameManager) VirtToPhys(addr uintptr) mm.Frame {
	return mm.FrameFromAddress(addr - m.offset)
}

// counter returns the share counter of frame, allocating its counter page
// when create is set. Without create, frames whose page does not exist yet
// yield nil.
func (m *FrameManager) counter(frame mm.Frame, create bool) *uint16 {
	slot := uintptr(frame) / shareLeafFrames
	if slot >= shareDirEntries {
		panic(errFrameOutOfRange)
	}

	if m.dir[slot] == 0 {
		if !create {
			return nil
		}
		leaf := m.leaves.Alloc(mm.PageSize, mm.PageSize)
		kernel.Memset(leaf, 0, mm.PageSize)
		m.dir[slot] = leaf
	}

	return (*uint16)(unsafe.Pointer(m.dir[slot] + (uintptr(frame)%shareLeafFrames)*2))
}
