package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkImage(t *testing.T) *Image {
	t.Helper()
	img := New(8, binary.LittleEndian)
	data := make([]byte, 0x40)
	binary.LittleEndian.PutUint64(data[0x08:], 0xdeadbeef)
	binary.LittleEndian.PutUint64(data[0x18:], 0xdeadbeef)
	copy(data[0x20:], "3Foo\x00junk")
	require.NoError(t, img.Map("data", 0x1000, data))
	return img
}

func TestImage_ReadBytes(t *testing.T) {
	img := mkImage(t)

	b, err := img.ReadBytes(0x1020, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("3Foo"), b)

	// end of segment exactly
	_, err = img.ReadBytes(0x1038, 8)
	require.NoError(t, err)

	_, err = img.ReadBytes(0x103c, 8)
	require.ErrorIs(t, err, ErrUnmapped)

	_, err = img.ReadBytes(0x10, 1)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestImage_ReadBytesIsCopy(t *testing.T) {
	img := mkImage(t)
	b, err := img.ReadBytes(0x1020, 1)
	require.NoError(t, err)
	b[0] = 'X'

	again, err := img.ReadBytes(0x1020, 1)
	require.NoError(t, err)
	require.Equal(t, byte('3'), again[0])
}

func TestImage_ReadCString(t *testing.T) {
	img := mkImage(t)

	s, err := img.ReadCString(0x1020, 256)
	require.NoError(t, err)
	require.Equal(t, "3Foo", string(s))

	s, err = img.ReadCString(0x1020, 2)
	require.NoError(t, err)
	require.Equal(t, "3F", string(s))

	// unterminated string stops at the segment end
	s, err = img.ReadCString(0x1025, 256)
	require.NoError(t, err)
	require.Equal(t, "junk", string(s))

	_, err = img.ReadCString(0x2000, 16)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestImage_ReadPointer32BigEndian(t *testing.T) {
	img := New(4, binary.BigEndian)
	require.NoError(t, img.Map("data", 0x100, []byte{0x00, 0x00, 0x12, 0x34}))

	v, err := img.ReadPointer(0x100)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)
}

func TestImage_MapOverlap(t *testing.T) {
	img := mkImage(t)
	err := img.Map("other", 0x1030, make([]byte, 0x20))
	require.ErrorIs(t, err, ErrOverlap)

	require.NoError(t, img.Map("low", 0x800, make([]byte, 0x10)))
	require.Len(t, img.Segments(), 2)
	require.Equal(t, uint64(0x800), img.Segments()[0].Addr)
}

func TestImage_FindPointers(t *testing.T) {
	img := mkImage(t)
	require.Equal(t, []uint64{0x1008, 0x1018}, img.FindPointers(0xdeadbeef))
	require.Empty(t, img.FindPointers(0))
	require.Empty(t, img.FindPointers(0x1234))
}

func TestImage_Symbols(t *testing.T) {
	img := mkImage(t)
	img.Define("_ZTI3Foo", 0x1010)
	img.Define("_ZTI3Bar", 0x1000)
	img.Define("_ZTV3Foo", 0x1030)

	addr, ok := img.LookupSymbol("_ZTV3Foo")
	require.True(t, ok)
	require.Equal(t, uint64(0x1030), addr)

	_, ok = img.LookupSymbol("missing")
	require.False(t, ok)

	syms := img.SymbolsWithPrefix("_ZTI")
	require.Len(t, syms, 2)
	require.Equal(t, "_ZTI3Bar", syms[0].Name)
	require.Equal(t, "_ZTI3Foo", syms[1].Name)
}

func TestLoader_ApplyRela64(t *testing.T) {
	img := mkImage(t)
	f := &elf.File{FileHeader: elf.FileHeader{
		Class:     elf.ELFCLASS64,
		Machine:   elf.EM_X86_64,
		ByteOrder: binary.LittleEndian,
	}}
	dynsyms := []elf.Symbol{
		{Name: "_ZTVN10__cxxabiv117__class_type_infoE", Section: elf.SHN_UNDEF},
	}
	externs := img.mapExterns(dynsyms)
	ext, ok := externs["_ZTVN10__cxxabiv117__class_type_infoE"]
	require.True(t, ok)
	require.Equal(t, uint64(0x2000), ext)

	var buf bytes.Buffer
	write := func(off uint64, sym, typ uint32, addend int64) {
		e := elf.Rela64{Off: off, Info: uint64(sym)<<32 | uint64(typ), Addend: addend}
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, e))
	}
	write(0x1000, 1, uint32(elf.R_X86_64_64), 16)
	write(0x1008, 0, uint32(elf.R_X86_64_RELATIVE), 0x1020)
	write(0x1010, 0, uint32(elf.R_X86_64_JMP_SLOT), 0)

	l := &loader{img: img, f: f, dynsyms: dynsyms, externs: externs}
	relocs, err := l.decode(buf.Bytes(), true)
	require.NoError(t, err)
	require.Len(t, relocs, 3)
	for _, r := range relocs {
		l.apply(r, dynsyms)
	}
	require.Equal(t, 2, l.applied)

	v, err := img.ReadPointer(0x1000)
	require.NoError(t, err)
	require.Equal(t, ext+16, v)

	v, err = img.ReadPointer(0x1008)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1020), v)

	addr, ok := img.LookupSymbol("_ZTVN10__cxxabiv117__class_type_infoE")
	require.True(t, ok)
	require.Equal(t, ext, addr)
}

func TestLoader_ApplyRel32(t *testing.T) {
	img := New(4, binary.LittleEndian)
	data := make([]byte, 0x10)
	binary.LittleEndian.PutUint32(data[0:], 8) // in-place addend
	require.NoError(t, img.Map("data", 0x400, data))
	img.Define("target", 0x800)

	f := &elf.File{FileHeader: elf.FileHeader{
		Class:     elf.ELFCLASS32,
		Machine:   elf.EM_386,
		ByteOrder: binary.LittleEndian,
	}}
	dynsyms := []elf.Symbol{{Name: "target", Section: elf.SHN_UNDEF}}

	var buf bytes.Buffer
	e := elf.Rel32{Off: 0x400, Info: 1<<8 | uint32(elf.R_386_32)}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, e))

	l := &loader{img: img, f: f, dynsyms: dynsyms, externs: map[string]uint64{}}
	relocs, err := l.decode(buf.Bytes(), false)
	require.NoError(t, err)
	require.Len(t, relocs, 1)
	l.apply(relocs[0], dynsyms)

	v, err := img.ReadPointer(0x400)
	require.NoError(t, err)
	require.Equal(t, uint64(0x808), v)
}
