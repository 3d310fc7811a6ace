package rtti

import "fmt"

// Kind identifies which of the three GCC type_info layouts a record uses.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNoBase       // abi::__class_type_info
	KindSingle       // abi::__si_class_type_info
	KindMulti        // abi::__vmi_class_type_info
)

func (k Kind) String() string {
	switch k {
	case KindNoBase:
		return "class"
	case KindSingle:
		return "si_class"
	case KindMulti:
		return "vmi_class"
	default:
		return "unknown"
	}
}

// Vtables holds the address a type_info's vtable pointer takes for each
// record kind in one binary. A zero field never matches.
type Vtables struct {
	Class uint64
	SI    uint64
	VMI   uint64
}

// Classify maps a record's vtable pointer to its layout.
func (v Vtables) Classify(vtable uint64) Kind {
	if vtable == 0 {
		return KindUnknown
	}
	switch vtable {
	case v.Class:
		return KindNoBase
	case v.SI:
		return KindSingle
	case v.VMI:
		return KindMulti
	}
	return KindUnknown
}

// TypeInfo is one parsed type_info record. Nodes are owned by the Cache and
// are never modified once committed.
type TypeInfo struct {
	Address uint64
	Name    string
	Vtable  uint64
	Kind    Kind

	// VMIFlags is __vmi_class_type_info::__flags (KindMulti only).
	VMIFlags uint32

	// Parents in on-disk base array order.
	Parents []Parent
}

// Parent is one base class link. Base is shared with every other link that
// reaches the same record.
type Parent struct {
	Address uint64
	Base    *TypeInfo
	Flags   BaseFlags
}

// Public reports whether the base is inherited publicly. A single-base
// record always describes a public, non-virtual base at offset zero.
func (p Parent) Public(child *TypeInfo) bool {
	if child != nil && child.Kind == KindSingle {
		return true
	}
	return p.Flags.IsPublic()
}

func (t *TypeInfo) String() string {
	return fmt.Sprintf("%s @ %#x (%s, %d bases)", t.Name, t.Address, t.Kind, len(t.Parents))
}
