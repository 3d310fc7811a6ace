// Package demangle classifies and demangles Itanium C++ ABI symbols.
package demangle

import (
	"errors"
	"fmt"
	"strings"

	itanium "github.com/ianlancetaylor/demangle"
)

// Errors
var (
	ErrEmptyInput  = errors.New("demangle: empty input")
	ErrNotMangled  = errors.New("demangle: not an Itanium mangled name")
	ErrInvalidName = errors.New("demangle: invalid mangled name")
)

// Kind describes what a demangled symbol names.
type Kind uint32

const (
	GCCv3             Kind = 1 << iota // Itanium C++ ABI ("_Z") encoding
	CompilerGenerated                  // special name emitted by the compiler
	RTTIName                           // typeinfo name for T
	RTTIDescriptor                     // typeinfo for T
	VTable                             // vtable for T
	VTT                                // VTT for T / construction vtable
	Thunk                              // (non-)virtual thunk
)

// RTTIKind is the exact tag of a type_info name string symbol (_ZTS).
const RTTIKind = GCCv3 | CompilerGenerated | RTTIName

// RTTINamePrefix is the decoration Demangle puts in front of the type for
// RTTIName symbols.
const RTTINamePrefix = "typeinfo name for "

func (k Kind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	names := []struct {
		bit  Kind
		name string
	}{
		{GCCv3, "gcc3"},
		{CompilerGenerated, "autogen"},
		{RTTIName, "rtti_name"},
		{RTTIDescriptor, "rtti"},
		{VTable, "vtable"},
		{VTT, "vtt"},
		{Thunk, "thunk"},
	}
	for _, n := range names {
		if k&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

var specialKinds = map[string]Kind{
	"typeinfo name for ":     RTTIName,
	"typeinfo for ":          RTTIDescriptor,
	"vtable for ":            VTable,
	"VTT for ":               VTT,
	"non-virtual thunk to ":  Thunk,
	"virtual thunk to ":      Thunk,
	"covariant return thunk": Thunk,
}

// Demangler is the default rtti.Demangler.
type Demangler struct {
	Options []itanium.Option
}

func (d Demangler) Demangle(symbol string) (string, Kind, error) {
	return Demangle(symbol, d.Options...)
}

// Demangle returns the display form of symbol and its kind.
func Demangle(symbol string, options ...itanium.Option) (string, Kind, error) {
	if len(symbol) == 0 {
		return "", 0, ErrEmptyInput
	}
	if !strings.HasPrefix(symbol, "_Z") {
		return "", 0, fmt.Errorf("%w: %q", ErrNotMangled, symbol)
	}

	ast, err := itanium.ToAST(symbol, options...)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	kind := GCCv3
	switch a := ast.(type) {
	case *itanium.Special:
		kind |= CompilerGenerated | specialKind(a.Prefix)
	case *itanium.Special2:
		// construction vtable for X-in-Y
		kind |= CompilerGenerated | VTT
	}
	return itanium.ASTToString(ast, options...), kind, nil
}

func specialKind(prefix string) Kind {
	if k, ok := specialKinds[prefix]; ok {
		return k
	}
	for p, k := range specialKinds {
		if strings.HasPrefix(prefix, p) {
			return k
		}
	}
	return 0
}
