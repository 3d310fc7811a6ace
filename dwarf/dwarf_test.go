package dwarfhelper

import (
	"debug/dwarf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rtti2cheader/rtti"
)

// DWARF constants used by the test unit
const (
	tagCompileUnit = 0x11
	tagNamespace   = 0x39
	tagClass       = 0x02
	tagStruct      = 0x13
	tagInheritance = 0x1c
	tagTypedef     = 0x16

	atName       = 0x03
	atByteSize   = 0x0b
	atType       = 0x49
	atMemberLoc  = 0x38
	atAccess     = 0x32
	atVirtuality = 0x4c
	atDecl       = 0x3c

	formString      = 0x08
	formData1       = 0x0b
	formRef4        = 0x13
	formExprloc     = 0x18
	formFlagPresent = 0x19
)

// abbreviation codes
const (
	abCU = iota + 1
	abNamespace
	abClass
	abStruct
	abInheritConst
	abInheritVirtual
	abLeafClass
	abDecl
	abTypedef
	abAnonNamespace
	abInheritExpr
)

func buildAbbrev() []byte {
	type attr struct{ at, form byte }
	var b []byte
	add := func(code, tag byte, children bool, attrs ...attr) {
		b = append(b, code, tag)
		if children {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		for _, a := range attrs {
			b = append(b, a.at, a.form)
		}
		b = append(b, 0, 0)
	}
	add(abCU, tagCompileUnit, true, attr{atName, formString})
	add(abNamespace, tagNamespace, true, attr{atName, formString})
	add(abClass, tagClass, true, attr{atName, formString}, attr{atByteSize, formData1})
	add(abStruct, tagStruct, true, attr{atName, formString}, attr{atByteSize, formData1})
	add(abInheritConst, tagInheritance, false, attr{atType, formRef4}, attr{atMemberLoc, formData1}, attr{atAccess, formData1})
	add(abInheritVirtual, tagInheritance, false, attr{atType, formRef4}, attr{atMemberLoc, formExprloc}, attr{atVirtuality, formData1}, attr{atAccess, formData1})
	add(abLeafClass, tagClass, false, attr{atName, formString}, attr{atByteSize, formData1})
	add(abDecl, tagStruct, false, attr{atName, formString}, attr{atDecl, formFlagPresent})
	add(abTypedef, tagTypedef, false, attr{atName, formString}, attr{atType, formRef4})
	add(abAnonNamespace, tagNamespace, true)
	add(abInheritExpr, tagInheritance, false, attr{atType, formRef4}, attr{atMemberLoc, formExprloc})
	return append(b, 0)
}

// unit writes a single DWARF 4 compilation unit. Offsets returned by die are
// relative to the unit start, which is what DW_FORM_ref4 encodes.
type unit struct {
	b []byte
}

func newUnit() *unit {
	u := &unit{}
	u.b = append(u.b, 0, 0, 0, 0) // unit_length
	u.b = binary.LittleEndian.AppendUint16(u.b, 4)
	u.b = binary.LittleEndian.AppendUint32(u.b, 0) // debug_abbrev_offset
	u.b = append(u.b, 8)                           // address_size
	return u
}

func (u *unit) die(code byte) uint32 {
	off := uint32(len(u.b))
	u.b = append(u.b, code)
	return off
}

func (u *unit) str(s string)   { u.b = append(append(u.b, s...), 0) }
func (u *unit) u8(v byte)      { u.b = append(u.b, v) }
func (u *unit) ref(off uint32) { u.b = binary.LittleEndian.AppendUint32(u.b, off) }
func (u *unit) expr(e ...byte) { u.b = append(append(u.b, byte(len(e))), e...) }
func (u *unit) end()           { u.b = append(u.b, 0) }
func (u *unit) bytes() []byte {
	binary.LittleEndian.PutUint32(u.b, uint32(len(u.b)-4))
	return u.b
}

func buildInfo() []byte {
	u := newUnit()
	u.die(abCU)
	u.str("a.cc")

	u.die(abNamespace)
	u.str("ns")

	base := u.die(abLeafClass)
	u.str("Base")
	u.u8(8)

	mid := u.die(abClass)
	u.str("Mid")
	u.u8(16)
	u.die(abInheritConst)
	u.ref(base)
	u.u8(0)
	u.u8(byte(AccessPublic))
	u.end()

	baseT := u.die(abTypedef)
	u.str("BaseT")
	u.ref(base)

	u.die(abClass)
	u.str("Derived")
	u.u8(32)
	u.die(abInheritExpr)
	u.ref(baseT)
	u.expr(0x23, 0x10) // DW_OP_plus_uconst 0x10
	u.die(abInheritVirtual)
	u.ref(mid)
	u.expr(0x12, 0x06, 0x11, 0x68, 0x1c, 0x06, 0x22) // dup deref consts(-24) minus deref plus
	u.u8(virtualityVirtual)
	u.u8(byte(AccessPublic))
	u.end()

	u.end() // ns

	u.die(abAnonNamespace)
	u.die(abStruct)
	u.str("Hidden")
	u.u8(1)
	u.end()
	u.end()

	u.die(abDecl)
	u.str("Fwd")

	u.end() // CU
	return u.bytes()
}

func loadTestInfo(t *testing.T) *DwarfInfo {
	t.Helper()
	d, err := dwarf.New(buildAbbrev(), nil, nil, buildInfo(), nil, nil, nil, nil)
	require.NoError(t, err)
	info := NewFromData(d)
	require.NoError(t, info.Load())
	return info
}

func TestDwarfInfo_Load(t *testing.T) {
	info := loadTestInfo(t)
	classes := info.GetClassMap()
	require.Len(t, classes, 4)
	require.NotContains(t, classes, "Fwd")

	base := classes["ns::Base"]
	require.NotNil(t, base)
	require.Equal(t, "class", base.Kind)
	require.Equal(t, int64(8), base.ByteSize)
	require.Empty(t, base.Bases)

	mid := classes["ns::Mid"]
	require.NotNil(t, mid)
	require.Len(t, mid.Bases, 1)
	require.Equal(t, "ns::Base", mid.Bases[0].Name)
	require.Equal(t, AccessPublic, mid.Bases[0].Access)
	require.True(t, mid.Bases[0].HasOffset)
	require.Zero(t, mid.Bases[0].ByteOffset)

	derived := classes["ns::Derived"]
	require.NotNil(t, derived)
	require.Equal(t, int64(32), derived.ByteSize)
	require.Len(t, derived.Bases, 2)
	require.Equal(t, "ns::Base", derived.Bases[0].Name)
	require.Equal(t, AccessPrivate, derived.Bases[0].Access)
	require.True(t, derived.Bases[0].HasOffset)
	require.Equal(t, int64(0x10), derived.Bases[0].ByteOffset)
	require.Equal(t, "ns::Mid", derived.Bases[1].Name)
	require.True(t, derived.Bases[1].Virtual)
	require.False(t, derived.Bases[1].HasOffset)
	require.Equal(t, "class ns::Derived : private ns::Base, public virtual ns::Mid", derived.String())

	hidden := classes["(anonymous namespace)::Hidden"]
	require.NotNil(t, hidden)
	require.Equal(t, "struct", hidden.Kind)

	sorted := info.Classes()
	require.Equal(t, "(anonymous namespace)::Hidden", sorted[0].Name)
	require.Equal(t, "ns::Mid", sorted[3].Name)
}

func TestMemberOffset(t *testing.T) {
	off, ok, err := memberOffset(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, off)

	off, ok, err = memberOffset([]byte{0x23, 0x80, 0x01}) // plus_uconst 128
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0x80), off)

	off, ok, err = memberOffset([]byte{0x11, 0x08, 0x22}) // consts 8, plus
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(8), off)

	off, ok, err = memberOffset([]byte{0x11, 0x78, 0x22}) // consts -8, plus
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-8), off)

	_, ok, err = memberOffset([]byte{0x11, 0x08, 0x1c}) // consts 8, minus
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = memberOffset([]byte{0x12, 0x06}) // dup, deref
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = memberOffset([]byte{0x23})
	require.Error(t, err)
	_, _, err = memberOffset([]byte{0x11, 0x08})
	require.Error(t, err)
	_, _, err = memberOffset([]byte{0x23, 0x08, 0x22})
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	info := loadTestInfo(t)

	base := &rtti.TypeInfo{Name: "ns::Base", Kind: rtti.KindNoBase}
	mid := &rtti.TypeInfo{Name: "ns::Mid", Kind: rtti.KindSingle,
		Parents: []rtti.Parent{{Base: base}}}
	derived := &rtti.TypeInfo{Name: "ns::Derived", Kind: rtti.KindMulti,
		Parents: []rtti.Parent{
			{Base: base, Flags: rtti.BaseFlags(0x10 << rtti.OffsetShift)},
			{Base: mid, Flags: rtti.BaseFlags(uint64(0xffffffffffffe800) | rtti.VirtualMask | rtti.PublicMask)},
		}}
	other := &rtti.TypeInfo{Name: "Other", Kind: rtti.KindNoBase}

	rep := Compare([]*rtti.TypeInfo{base, mid, derived, other}, info.GetClassMap())
	require.Equal(t, 3, rep.Matched)
	require.Equal(t, []string{"Other"}, rep.Missing)
	require.Empty(t, rep.Mismatches)

	wrong := &rtti.TypeInfo{Name: "ns::Derived", Kind: rtti.KindMulti,
		Parents: []rtti.Parent{
			{Base: base, Flags: rtti.BaseFlags(0x8<<rtti.OffsetShift | rtti.PublicMask)},
			{Base: mid, Flags: rtti.BaseFlags(rtti.PublicMask)},
		}}
	rep = Compare([]*rtti.TypeInfo{wrong}, info.GetClassMap())
	require.Zero(t, rep.Matched)
	fields := make([]string, 0, len(rep.Mismatches))
	for _, m := range rep.Mismatches {
		fields = append(fields, m.Field)
	}
	require.Equal(t, []string{"base[0].access", "base[0].offset", "base[1].virtual"}, fields)

	short := &rtti.TypeInfo{Name: "ns::Mid", Kind: rtti.KindNoBase}
	rep = Compare([]*rtti.TypeInfo{short}, info.GetClassMap())
	require.Len(t, rep.Mismatches, 1)
	require.Equal(t, "bases", rep.Mismatches[0].Field)
	require.Equal(t, "[]", rep.Mismatches[0].RTTI)
	require.Equal(t, "[ns::Base]", rep.Mismatches[0].DWARF)
}
