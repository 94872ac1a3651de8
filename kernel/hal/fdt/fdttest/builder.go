// Package fdttest assembles flattened device tree blobs for tests.
package fdttest

import (
	"encoding/binary"
	"testing"

	"rvgopher/kernel/mm/mmtest"
)

const (
	magic      = 0xd00dfeed
	headerSize = 40
	rsvmapSize = 16

	tokenBeginNode = 1
	tokenEndNode   = 2
	tokenProp      = 3
	tokenEnd       = 9
)

// Builder appends structure block tokens in document order. The terminating
// END token and the header are added by Bytes.
type Builder struct {
	Version         uint32
	LastCompVersion uint32

	structs []byte
	strings []byte
	names   map[string]uint32
}

// New returns a builder for a version 17 blob.
func New() *Builder {
	return &Builder{Version: 17, LastCompVersion: 16, names: make(map[string]uint32)}
}

// Word appends a raw structure block word.
func (b *Builder) Word(v uint32) *Builder {
	b.structs = binary.BigEndian.AppendUint32(b.structs, v)
	return b
}

// Begin opens a node.
func (b *Builder) Begin(name string) *Builder {
	b.Word(tokenBeginNode)
	b.structs = append(append(b.structs, name...), 0)
	b.pad()
	return b
}

// End closes the innermost node.
func (b *Builder) End() *Builder { return b.Word(tokenEndNode) }

// Prop appends a property to the innermost node.
func (b *Builder) Prop(name string, value []byte) *Builder {
	off, ok := b.names[name]
	if !ok {
		off = uint32(len(b.strings))
		b.names[name] = off
		b.strings = append(append(b.strings, name...), 0)
	}

	b.Word(tokenProp).Word(uint32(len(value))).Word(off)
	b.structs = append(b.structs, value...)
	b.pad()
	return b
}

func (b *Builder) pad() {
	for len(b.structs)%4 != 0 {
		b.structs = append(b.structs, 0)
	}
}

// Bytes returns the encoded blob.
func (b *Builder) Bytes() []byte {
	structs := binary.BigEndian.AppendUint32(append([]byte(nil), b.structs...), tokenEnd)

	offStruct := uint32(headerSize + rsvmapSize)
	offStrings := offStruct + uint32(len(structs))
	total := offStrings + uint32(len(b.strings))

	out := make([]byte, 0, total)
	for _, v := range []uint32{
		magic, total, offStruct, offStrings, headerSize,
		b.Version, b.LastCompVersion, 0, uint32(len(b.strings)), uint32(len(structs)),
	} {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	out = append(out, make([]byte, rsvmapSize)...)
	out = append(out, structs...)
	return append(out, b.strings...)
}

// Place copies the blob into fresh memory, offset bytes past a page
// boundary, and returns its address.
func (b *Builder) Place(t *testing.T, offset uintptr) uintptr {
	t.Helper()

	data := b.Bytes()
	addr := mmtest.Arena(t, uintptr(len(data))+offset, 4096) + offset
	copy(mmtest.Bytes(addr, uintptr(len(data))), data)
	return addr
}

// CopyTo writes the blob at addr and returns its length.
func (b *Builder) CopyTo(addr uintptr) uintptr {
	data := b.Bytes()
	return uintptr(copy(mmtest.Bytes(addr, uintptr(len(data))), data))
}

// Cells encodes values as big-endian cells.
func Cells(values ...uint32) []byte {
	var out []byte
	for _, v := range values {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	return out
}

// Str encodes a NUL terminated string property.
func Str(s string) []byte { return append([]byte(s), 0) }
