package dwarfhelper

import (
	"debug/dwarf"
	"strings"
)

// Access is a DW_AT_accessibility value.
type Access int64

const (
	AccessPublic    Access = 1
	AccessProtected Access = 2
	AccessPrivate   Access = 3
)

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessProtected:
		return "protected"
	case AccessPrivate:
		return "private"
	}
	return "unknown"
}

// DW_VIRTUALITY_virtual
const virtualityVirtual = 1

// Class is a class or struct definition with its direct bases.
type Class struct {
	Name     string // qualified with enclosing namespaces and classes
	Kind     string // "class" or "struct"
	Offset   dwarf.Offset
	ByteSize int64
	Bases    []*Base
}

// Base is one DW_TAG_inheritance child.
type Base struct {
	Name   string
	Type   dwarf.Offset
	Access Access

	Virtual bool

	// ByteOffset is valid when HasOffset is set. Virtual bases are located
	// through the vtable and carry a location expression instead.
	ByteOffset int64
	HasOffset  bool
}

func (c *Class) String() string {
	if len(c.Bases) == 0 {
		return c.Kind + " " + c.Name
	}
	parts := make([]string, 0, len(c.Bases))
	for _, b := range c.Bases {
		s := b.Access.String() + " "
		if b.Virtual {
			s += "virtual "
		}
		parts = append(parts, s+b.Name)
	}
	return c.Kind + " " + c.Name + " : " + strings.Join(parts, ", ")
}
