// Package image provides an address-space view of an executable image.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors returned by Image
var (
	ErrUnmapped         = errors.New("image: address not mapped")
	ErrNotELF           = errors.New("image: not an ELF file")
	ErrUnsupportedClass = errors.New("image: unsupported ELF class")
	ErrOverlap          = errors.New("image: segment overlaps existing mapping")
)

// Segment is a contiguous mapped range. Data covers the whole range; bytes
// past the file-backed part are zero.
type Segment struct {
	Name string
	Addr uint64
	Data []byte
}

func (s *Segment) End() uint64 { return s.Addr + uint64(len(s.Data)) }

func (s *Segment) contains(addr uint64, n int) bool {
	return addr >= s.Addr && addr+uint64(n) <= s.End() && addr+uint64(n) >= addr
}

// Symbol is a named address.
type Symbol struct {
	Name    string
	Addr    uint64
	Size    uint64
	Defined bool
}

// Image is a relocated, read-only view of a binary's loadable segments.
type Image struct {
	ptrSize  int
	order    binary.ByteOrder
	segments []*Segment // sorted by Addr
	symbols  map[string]Symbol
}

// New creates an empty image. Segments and symbols are added with Map and
// Define.
func New(ptrSize int, order binary.ByteOrder) *Image {
	return &Image{
		ptrSize: ptrSize,
		order:   order,
		symbols: make(map[string]Symbol),
	}
}

// Map adds a segment at addr backed by data.
func (img *Image) Map(name string, addr uint64, data []byte) error {
	seg := &Segment{Name: name, Addr: addr, Data: data}
	for _, s := range img.segments {
		if seg.Addr < s.End() && s.Addr < seg.End() {
			return fmt.Errorf("%w: %s [%#x, %#x) and %s", ErrOverlap, name, seg.Addr, seg.End(), s.Name)
		}
	}
	img.segments = append(img.segments, seg)
	sort.Slice(img.segments, func(i, j int) bool {
		return img.segments[i].Addr < img.segments[j].Addr
	})
	return nil
}

// Define records a defined symbol.
func (img *Image) Define(name string, addr uint64) {
	img.symbols[name] = Symbol{Name: name, Addr: addr, Defined: true}
}

func (img *Image) PointerSize() int            { return img.ptrSize }
func (img *Image) ByteOrder() binary.ByteOrder { return img.order }
func (img *Image) Segments() []*Segment        { return img.segments }

func (img *Image) segmentFor(addr uint64, n int) *Segment {
	i := sort.Search(len(img.segments), func(i int) bool {
		return img.segments[i].End() > addr
	})
	if i < len(img.segments) && img.segments[i].contains(addr, n) {
		return img.segments[i]
	}
	return nil
}

// ReadBytes returns a copy of the n bytes at addr.
func (img *Image) ReadBytes(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("image: negative read length %d", n)
	}
	seg := img.segmentFor(addr, n)
	if seg == nil {
		return nil, fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, n)
	}
	off := addr - seg.Addr
	out := make([]byte, n)
	copy(out, seg.Data[off:off+uint64(n)])
	return out, nil
}

// ReadCString returns the bytes at addr up to a NUL terminator. At most max
// bytes are returned; the string is cut at the end of its segment.
func (img *Image) ReadCString(addr uint64, max int) ([]byte, error) {
	seg := img.segmentFor(addr, 1)
	if seg == nil {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	data := seg.Data[addr-seg.Addr:]
	if len(data) > max {
		data = data[:max]
	}
	for i, b := range data {
		if b == 0 {
			data = data[:i]
			break
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadPointer reads a pointer-sized value at addr.
func (img *Image) ReadPointer(addr uint64) (uint64, error) {
	b, err := img.ReadBytes(addr, img.ptrSize)
	if err != nil {
		return 0, err
	}
	if img.ptrSize == 4 {
		return uint64(img.order.Uint32(b)), nil
	}
	return img.order.Uint64(b), nil
}

func (img *Image) writePointer(addr, value uint64) error {
	seg := img.segmentFor(addr, img.ptrSize)
	if seg == nil {
		return fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	off := addr - seg.Addr
	if img.ptrSize == 4 {
		img.order.PutUint32(seg.Data[off:], uint32(value))
	} else {
		img.order.PutUint64(seg.Data[off:], value)
	}
	return nil
}

// LookupSymbol returns the address of a symbol. Imported symbols resolve to
// their slot in the extern segment.
func (img *Image) LookupSymbol(name string) (uint64, bool) {
	sym, ok := img.symbols[name]
	if !ok || sym.Addr == 0 {
		return 0, false
	}
	return sym.Addr, true
}

// SymbolsWithPrefix returns the symbols whose name starts with prefix,
// sorted by address.
func (img *Image) SymbolsWithPrefix(prefix string) []Symbol {
	var out []Symbol
	for name, sym := range img.symbols {
		if strings.HasPrefix(name, prefix) {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr == out[j].Addr {
			return out[i].Name < out[j].Name
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

// FindPointers returns every pointer-aligned address whose pointer value is
// one of values.
func (img *Image) FindPointers(values ...uint64) []uint64 {
	want := make(map[uint64]struct{}, len(values))
	for _, v := range values {
		if v != 0 {
			want[v] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil
	}

	var out []uint64
	step := uint64(img.ptrSize)
	for _, seg := range img.segments {
		start := (seg.Addr + step - 1) &^ (step - 1)
		for addr := start; addr+step <= seg.End(); addr += step {
			off := addr - seg.Addr
			var v uint64
			if img.ptrSize == 4 {
				v = uint64(img.order.Uint32(seg.Data[off:]))
			} else {
				v = img.order.Uint64(seg.Data[off:])
			}
			if _, ok := want[v]; ok {
				out = append(out, addr)
			}
		}
	}
	return out
}
