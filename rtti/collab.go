package rtti

import (
	"encoding/binary"

	"rtti2cheader/demangle"
)

// Memory is the byte source records are read from.
type Memory interface {
	// ReadBytes returns exactly n bytes at addr or an error.
	ReadBytes(addr uint64, n int) ([]byte, error)
	// ReadCString returns the bytes at addr up to (not including) a NUL
	// terminator, reading at most max bytes.
	ReadCString(addr uint64, max int) ([]byte, error)
	PointerSize() int
	ByteOrder() binary.ByteOrder
}

// Demangler turns a mangled symbol into a display name and a kind tag.
type Demangler interface {
	Demangle(symbol string) (string, demangle.Kind, error)
}

// Annotator receives the facts the parser learns about each address.
// Every call is best-effort; errors are logged and ignored.
type Annotator interface {
	MarkRawBytes(addr uint64, size int) error
	MarkSelfRelativePointer(addr uint64, size int, base uint64) error
	MarkDword(addr uint64, size int) error
	SetComment(addr uint64, text string) error
	SetSymbolicName(addr uint64, name, prefix string) error
}

// SymbolLookup resolves a symbol name to its address in the image.
type SymbolLookup interface {
	LookupSymbol(name string) (uint64, bool)
}

type nopAnnotator struct{}

func (nopAnnotator) MarkRawBytes(uint64, int) error                    { return nil }
func (nopAnnotator) MarkSelfRelativePointer(uint64, int, uint64) error { return nil }
func (nopAnnotator) MarkDword(uint64, int) error                       { return nil }
func (nopAnnotator) SetComment(uint64, string) error                   { return nil }
func (nopAnnotator) SetSymbolicName(uint64, string, string) error      { return nil }
