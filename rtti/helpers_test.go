package rtti

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rtti2cheader/demangle"
	"rtti2cheader/image"
)

const (
	fixtureBase = 0x10000
	fixtureSize = 0x4000
)

var fixtureVtables = Vtables{Class: 0x9010, SI: 0x9110, VMI: 0x9210}

// fixture lays out type_info records in a synthetic image.
type fixture struct {
	t     *testing.T
	img   *image.Image
	data  []byte
	ptr   int
	order binary.ByteOrder
	next  uint64
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, 8, binary.LittleEndian)
}

func newFixtureWith(t *testing.T, ptr int, order binary.ByteOrder) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		img:   image.New(ptr, order),
		data:  make([]byte, fixtureSize),
		ptr:   ptr,
		order: order,
		next:  fixtureBase,
	}
	require.NoError(t, f.img.Map("data", fixtureBase, f.data))
	return f
}

func (f *fixture) alloc(n int) uint64 {
	f.t.Helper()
	addr := (f.next + 7) &^ 7
	f.next = addr + uint64(n)
	require.LessOrEqual(f.t, f.next, uint64(fixtureBase+fixtureSize), "fixture full")
	return addr
}

func (f *fixture) put(addr, v uint64) {
	off := addr - fixtureBase
	if f.ptr == 4 {
		f.order.PutUint32(f.data[off:], uint32(v))
		return
	}
	f.order.PutUint64(f.data[off:], v)
}

func (f *fixture) put32(addr uint64, v uint32) {
	f.order.PutUint32(f.data[addr-fixtureBase:], v)
}

func (f *fixture) str(s string) uint64 {
	addr := f.alloc(len(s) + 1)
	copy(f.data[addr-fixtureBase:], s)
	return addr
}

func (f *fixture) header(vtable uint64, name string, extra int) uint64 {
	nameEA := f.str(name)
	addr := f.alloc(2*f.ptr + extra)
	f.put(addr, vtable)
	f.put(addr+uint64(f.ptr), nameEA)
	return addr
}

// class writes an abi::__class_type_info for the mangled type name.
func (f *fixture) class(name string) uint64 {
	return f.header(fixtureVtables.Class, name, 0)
}

// si writes an abi::__si_class_type_info.
func (f *fixture) si(name string, base uint64) uint64 {
	addr := f.header(fixtureVtables.SI, name, f.ptr)
	f.put(addr+uint64(2*f.ptr), base)
	return addr
}

type vmiBase struct {
	addr  uint64
	flags uint64
}

func publicAt(addr, offset uint64) vmiBase {
	return vmiBase{addr: addr, flags: offset<<OffsetShift | PublicMask}
}

// vmi writes an abi::__vmi_class_type_info with the given base array.
func (f *fixture) vmi(name string, flags uint32, bases ...vmiBase) uint64 {
	addr := f.header(fixtureVtables.VMI, name, 8+len(bases)*2*f.ptr)
	f.put32(addr+uint64(2*f.ptr), flags)
	f.put32(addr+uint64(2*f.ptr+4), uint32(len(bases)))
	entry := addr + uint64(2*f.ptr+8)
	for _, b := range bases {
		f.put(entry, b.addr)
		f.put(entry+uint64(f.ptr), b.flags)
		entry += uint64(2 * f.ptr)
	}
	return addr
}

func (f *fixture) parser(a Annotator, cfg Config) *Parser {
	return NewParser(f.img, demangle.Demangler{}, a, fixtureVtables, nil, cfg)
}

// countingMemory counts header reads per address.
type countingMemory struct {
	Memory
	reads map[uint64]int
}

func (m *countingMemory) ReadBytes(addr uint64, n int) ([]byte, error) {
	if m.reads == nil {
		m.reads = make(map[uint64]int)
	}
	if n == 2*m.PointerSize() {
		m.reads[addr]++
	}
	return m.Memory.ReadBytes(addr, n)
}

// kindDemangler reports a fixed kind for every symbol.
type kindDemangler struct {
	kind demangle.Kind
}

func (d kindDemangler) Demangle(symbol string) (string, demangle.Kind, error) {
	return demangle.RTTINamePrefix + symbol, d.kind, nil
}

var errReadOnly = errors.New("annotations are read-only")

// readOnlyAnnotator rejects every annotation and counts the attempts.
type readOnlyAnnotator struct {
	calls int
}

func (a *readOnlyAnnotator) reject() error {
	a.calls++
	return errReadOnly
}

func (a *readOnlyAnnotator) MarkRawBytes(uint64, int) error { return a.reject() }
func (a *readOnlyAnnotator) MarkSelfRelativePointer(uint64, int, uint64) error { return a.reject() }
func (a *readOnlyAnnotator) MarkDword(uint64, int) error { return a.reject() }
func (a *readOnlyAnnotator) SetComment(uint64, string) error { return a.reject() }
func (a *readOnlyAnnotator) SetSymbolicName(uint64, string, string) error { return a.reject() }
