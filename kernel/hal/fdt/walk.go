package fdt

import (
	"rvgopher/kernel"
	"unsafe"
)

// Step tells Walk how to continue after visiting an item.
type Step uint8

const (
	// StepInto enters a node. For properties it behaves like StepOver.
	StepInto Step = iota

	// StepOver skips a node with everything below it, or moves on to the
	// next item after a property.
	StepOver

	// StepOut skips everything left in the node that contains the item.
	StepOut

	// Stop ends the walk.
	Stop
)

// ItemKind distinguishes nodes from properties.
type ItemKind uint8

const (
	ItemNode ItemKind = iota
	ItemProperty
)

// Item is a node or a property reported to a Visitor. Name and Value point
// into the blob.
type Item struct {
	Kind  ItemKind
	Name  string
	Value []byte
}

// Uint32 decodes a single cell property value.
func (it Item) Uint32() (uint32, bool) {
	if len(it.Value) != 4 {
		return 0, false
	}
	return be32(uintptr(unsafe.Pointer(&it.Value[0]))), true
}

// Path lists the nodes entered so far, excluding the root.
type Path struct {
	names [MaxDepth]string
	depth int
}

// Depth returns the number of entered nodes below the root.
func (p *Path) Depth() int { return p.depth }

// IsRoot reports whether the current node is the root.
func (p *Path) IsRoot() bool { return p.depth == 0 }

// Name returns the name of the current node; the root is named "".
func (p *Path) Name() string {
	if p.depth == 0 {
		return ""
	}
	return p.names[p.depth-1]
}

func (p *Path) push(name string) *kernel.Error {
	if p.depth == MaxDepth {
		return errTooDeep
	}
	p.names[p.depth] = name
	p.depth++
	return nil
}

// Visitor is invoked for every item Walk reaches. Nodes are reported with
// the path of their parent; properties with the path of their node.
type Visitor func(path *Path, item Item) Step

// Walk traverses the structure block in document order. It starts inside
// the root node, so root properties and root subnodes are the first items
// reported.
func (t *Tree) Walk(visit Visitor) *kernel.Error {
	var (
		c         = cursor{pos: t.structStart, end: t.structEnd}
		path      Path
		level     int
		skipping  bool
		skipUntil int
	)

	for {
		tok, err := c.word()
		if err != nil {
			return err
		}

		switch tok {
		case tokenNop:
		case tokenBeginNode:
			name, err := cstring(c.pos, c.end)
			if err != nil {
				return err
			}
			c.pos += alignWord(uintptr(len(name)) + 1)
			level++

			// the root node is entered implicitly
			if level == 1 || skipping {
				continue
			}

			switch visit(&path, Item{Kind: ItemNode, Name: name}) {
			case StepInto:
				if err := path.push(name); err != nil {
					return err
				}
			case StepOver:
				skipping, skipUntil = true, level-1
			case StepOut:
				skipping, skipUntil = true, level-2
			case Stop:
				return nil
			}
		case tokenEndNode:
			if level == 0 {
				return errBadToken
			}
			level--
			for path.depth > 0 && path.depth > level-1 {
				path.depth--
			}
			if skipping && level == skipUntil {
				skipping = false
			}
			if level == 0 {
				return nil
			}
		case tokenProp:
			size, err := c.word()
			if err != nil {
				return err
			}
			nameOff, err := c.word()
			if err != nil {
				return err
			}
			if c.pos+uintptr(size) > c.end {
				return errTruncated
			}
			value := unsafe.Slice((*byte)(unsafe.Pointer(c.pos)), int(size))
			c.pos += alignWord(uintptr(size))

			if level < 1 {
				return errBadToken
			}
			if skipping {
				continue
			}

			name, err := t.propName(nameOff)
			if err != nil {
				return err
			}

			switch visit(&path, Item{Kind: ItemProperty, Name: name, Value: value}) {
			case StepOut:
				skipping, skipUntil = true, level-1
			case Stop:
				return nil
			}
		case tokenEnd:
			return nil
		default:
			return errBadToken
		}
	}
}

func (t *Tree) propName(off uint32) (string, *kernel.Error) {
	addr := t.stringsStart + uintptr(off)
	if addr >= t.stringsEnd {
		return "", errTruncated
	}
	return cstring(addr, t.stringsEnd)
}

// cursor reads words from the structure block.
type cursor struct {
	pos, end uintptr
}

func (c *cursor) word() (uint32, *kernel.Error) {
	if c.pos+4 > c.end {
		return 0, errTruncated
	}
	w := be32(c.pos)
	c.pos += 4
	return w, nil
}

func alignWord(n uintptr) uintptr {
	return (n + 3) &^ 3
}
