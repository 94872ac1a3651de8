// Package fdt reads flattened device tree blobs in place. It never
// allocates: names and property values are views into the blob.
package fdt

import (
	"rvgopher/kernel"
	"unsafe"
)

const (
	magic = 0xd00dfeed

	// the oldest layout this reader understands and the compatibility
	// version every blob of that layout declares
	minVersion      = 17
	lastCompVersion = 16

	headerSize = 40
	blobAlign  = 8

	// MaxDepth bounds the nesting of nodes a Walk can enter.
	MaxDepth = 16
)

// structure block tokens
const (
	tokenBeginNode = 1
	tokenEndNode   = 2
	tokenProp      = 3
	tokenNop       = 4
	tokenEnd       = 9
)

// header field offsets
const (
	hdrMagic           = 0
	hdrTotalSize       = 4
	hdrOffStruct       = 8
	hdrOffStrings      = 12
	hdrVersion         = 20
	hdrLastCompVersion = 24
	hdrSizeStrings     = 32
	hdrSizeStruct      = 36
)

var (
	errBadMagic        = &kernel.Error{Module: "fdt", Message: "bad device tree magic"}
	errMisaligned      = &kernel.Error{Module: "fdt", Message: "device tree blob is misaligned"}
	errVersion         = &kernel.Error{Module: "fdt", Message: "unsupported device tree version"}
	errLastCompVersion = &kernel.Error{Module: "fdt", Message: "unsupported device tree compatibility version"}
	errTruncated       = &kernel.Error{Module: "fdt", Message: "device tree blob is truncated"}
	errBadToken        = &kernel.Error{Module: "fdt", Message: "unexpected token in device tree structure"}
	errTooDeep         = &kernel.Error{Module: "fdt", Message: "device tree nesting is too deep"}
	errBadCells        = &kernel.Error{Module: "fdt", Message: "unsupported cell count"}
)

// ToleranceKind identifies a header check that may be relaxed.
type ToleranceKind uint8

const (
	// ToleranceMisaligned accepts blobs aligned to Tolerance.Value bytes
	// instead of 8.
	ToleranceMisaligned ToleranceKind = iota + 1

	// ToleranceLastCompVersion accepts any last compatible version.
	ToleranceLastCompVersion
)

// Tolerance relaxes one of the checks performed by Open.
type Tolerance struct {
	Kind  ToleranceKind
	Value uint32
}

// Misaligned tolerates blobs aligned to align bytes.
func Misaligned(align uint32) Tolerance {
	return Tolerance{Kind: ToleranceMisaligned, Value: align}
}

// AnyLastCompVersion tolerates any last compatible version.
func AnyLastCompVersion() Tolerance {
	return Tolerance{Kind: ToleranceLastCompVersion}
}

// DefaultTolerances is the set of relaxations applied to the blob handed
// over by the firmware.
var DefaultTolerances = []Tolerance{Misaligned(4), AnyLastCompVersion()}

// Tree is an opened device tree blob.
type Tree struct {
	base uintptr

	structStart, structEnd   uintptr
	stringsStart, stringsEnd uintptr

	version uint32
}

// Open validates the header of the blob at addr. The Tree is returned by
// value so it can live on the stack of callers that run before the heap.
func Open(addr uintptr, tolerances []Tolerance) (Tree, *kernel.Error) {
	if addr%blobAlign != 0 && !misalignmentTolerated(addr, tolerances) {
		return Tree{}, errMisaligned
	}

	if be32(addr+hdrMagic) != magic {
		return Tree{}, errBadMagic
	}

	version := be32(addr + hdrVersion)
	if version < minVersion {
		return Tree{}, errVersion
	}
	if be32(addr+hdrLastCompVersion) != lastCompVersion && !tolerated(ToleranceLastCompVersion, tolerances) {
		return Tree{}, errLastCompVersion
	}

	total := uintptr(be32(addr + hdrTotalSize))
	offStruct, sizeStruct := uintptr(be32(addr+hdrOffStruct)), uintptr(be32(addr+hdrSizeStruct))
	offStrings, sizeStrings := uintptr(be32(addr+hdrOffStrings)), uintptr(be32(addr+hdrSizeStrings))
	if total < headerSize || offStruct+sizeStruct > total || offStrings+sizeStrings > total || offStruct%4 != 0 {
		return Tree{}, errTruncated
	}

	return Tree{
		base:         addr,
		structStart:  addr + offStruct,
		structEnd:    addr + offStruct + sizeStruct,
		stringsStart: addr + offStrings,
		stringsEnd:   addr + offStrings + sizeStrings,
		version:      version,
	}, nil
}

func misalignmentTolerated(addr uintptr, tolerances []Tolerance) bool {
	for _, tol := range tolerances {
		if tol.Kind == ToleranceMisaligned && tol.Value != 0 && addr%uintptr(tol.Value) == 0 {
			return true
		}
	}
	return false
}

func tolerated(kind ToleranceKind, tolerances []Tolerance) bool {
	for _, tol := range tolerances {
		if tol.Kind == kind {
			return true
		}
	}
	return false
}

// Version returns the blob's layout version.
func (t *Tree) Version() uint32 { return t.version }

// Addr returns the address of the blob.
func (t *Tree) Addr() uintptr { return t.base }

// be32 reads a big-endian word one byte at a time so it is safe on
// misaligned blobs.
func be32(addr uintptr) uint32 {
	b := (*[4]byte)(unsafe.Pointer(addr))
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// cstring returns a view of the NUL terminated string at addr that must end
// before limit.
func cstring(addr, limit uintptr) (string, *kernel.Error) {
	for end := addr; end < limit; end++ {
		if *(*byte)(unsafe.Pointer(end)) == 0 {
			return unsafe.String((*byte)(unsafe.Pointer(addr)), int(end-addr)), nil
		}
	}
	return "", errTruncated
}
