package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/apex/log"
)

const (
	externAlign  = 0x1000
	externStride = 0x100
)

// Open loads the PT_LOAD segments of an ELF file at their link-time
// addresses and applies its dynamic relocations.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		var ferr *elf.FormatError
		if errors.As(err, &ferr) {
			return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
		}
		return nil, err
	}
	defer f.Close()
	return NewFromELF(f)
}

// NewFromELF builds an Image from an already opened ELF file.
func NewFromELF(f *elf.File) (*Image, error) {
	var ptrSize int
	switch f.Class {
	case elf.ELFCLASS32:
		ptrSize = 4
	case elf.ELFCLASS64:
		ptrSize = 8
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedClass, f.Class)
	}

	img := New(ptrSize, f.ByteOrder)
	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		data := make([]byte, prog.Memsz)
		filesz := prog.Filesz
		if filesz > prog.Memsz {
			filesz = prog.Memsz
		}
		if filesz > 0 {
			if _, err := prog.ReadAt(data[:filesz], 0); err != nil {
				return nil, fmt.Errorf("image: failed to read segment %d: %w", i, err)
			}
		}
		if err := img.Map(fmt.Sprintf("LOAD%d", i), prog.Vaddr, data); err != nil {
			return nil, err
		}
	}

	syms, _ := f.Symbols()
	dynsyms, _ := f.DynamicSymbols()
	img.addSymbols(syms)
	img.addSymbols(dynsyms)
	externs := img.mapExterns(dynsyms)

	l := &loader{img: img, f: f, syms: syms, dynsyms: dynsyms, externs: externs}
	if err := l.applyRelocations(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"segments": len(img.segments),
		"symbols":  len(img.symbols),
		"externs":  len(externs),
		"relocs":   l.applied,
	}).Debug("loaded ELF image")
	return img, nil
}

func (img *Image) addSymbols(syms []elf.Symbol) {
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		defined := s.Section != elf.SHN_UNDEF && s.Value != 0
		if existing, ok := img.symbols[s.Name]; ok && (existing.Defined || !defined) {
			continue
		}
		img.symbols[s.Name] = Symbol{Name: s.Name, Addr: s.Value, Size: s.Size, Defined: defined}
	}
}

// mapExterns gives every imported dynamic symbol a slot in a zero-filled
// extern segment placed after the highest mapped address.
func (img *Image) mapExterns(dynsyms []elf.Symbol) map[string]uint64 {
	externs := make(map[string]uint64)
	var names []string
	for _, s := range dynsyms {
		if s.Name == "" || s.Section != elf.SHN_UNDEF {
			continue
		}
		if sym, ok := img.symbols[s.Name]; ok && sym.Defined {
			continue
		}
		if _, ok := externs[s.Name]; ok {
			continue
		}
		externs[s.Name] = 0
		names = append(names, s.Name)
	}
	if len(names) == 0 {
		return externs
	}

	var top uint64
	for _, seg := range img.segments {
		if seg.End() > top {
			top = seg.End()
		}
	}
	base := (top + externAlign - 1) &^ (externAlign - 1)
	for i, name := range names {
		addr := base + uint64(i)*externStride
		externs[name] = addr
		img.symbols[name] = Symbol{Name: name, Addr: addr}
	}
	// Map cannot fail here: base lies above every existing segment.
	_ = img.Map("extern", base, make([]byte, len(names)*externStride))
	return externs
}

type loader struct {
	img     *Image
	f       *elf.File
	syms    []elf.Symbol
	dynsyms []elf.Symbol
	externs map[string]uint64
	applied int
}

type relocKind int

const (
	relocIgnore   relocKind = iota
	relocRelative           // B + A
	relocAbsolute           // S + A
	relocGlobDat            // S
)

func (l *loader) classify(typ uint32) relocKind {
	switch l.f.Machine {
	case elf.EM_X86_64:
		switch elf.R_X86_64(typ) {
		case elf.R_X86_64_RELATIVE:
			return relocRelative
		case elf.R_X86_64_64:
			return relocAbsolute
		case elf.R_X86_64_GLOB_DAT:
			return relocGlobDat
		}
	case elf.EM_AARCH64:
		switch elf.R_AARCH64(typ) {
		case elf.R_AARCH64_RELATIVE:
			return relocRelative
		case elf.R_AARCH64_ABS64:
			return relocAbsolute
		case elf.R_AARCH64_GLOB_DAT:
			return relocGlobDat
		}
	case elf.EM_386:
		switch elf.R_386(typ) {
		case elf.R_386_RELATIVE:
			return relocRelative
		case elf.R_386_32:
			return relocAbsolute
		case elf.R_386_GLOB_DAT:
			return relocGlobDat
		}
	case elf.EM_ARM:
		switch elf.R_ARM(typ) {
		case elf.R_ARM_RELATIVE:
			return relocRelative
		case elf.R_ARM_ABS32:
			return relocAbsolute
		case elf.R_ARM_GLOB_DAT:
			return relocGlobDat
		}
	}
	return relocIgnore
}

type reloc struct {
	off    uint64
	sym    uint32
	typ    uint32
	addend int64
	rela   bool
}

func (l *loader) applyRelocations() error {
	for _, sec := range l.f.Sections {
		if sec.Type != elf.SHT_RELA && sec.Type != elf.SHT_REL {
			continue
		}
		if sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("image: failed to read %s: %w", sec.Name, err)
		}
		relocs, err := l.decode(data, sec.Type == elf.SHT_RELA)
		if err != nil {
			return fmt.Errorf("image: failed to decode %s: %w", sec.Name, err)
		}
		symtab := l.dynsyms
		if int(sec.Link) < len(l.f.Sections) && l.f.Sections[sec.Link].Type == elf.SHT_SYMTAB {
			symtab = l.syms
		}
		for _, r := range relocs {
			l.apply(r, symtab)
		}
	}
	return nil
}

func (l *loader) decode(data []byte, rela bool) ([]reloc, error) {
	var out []reloc
	rd := bytes.NewReader(data)
	bo := l.f.ByteOrder
	for rd.Len() > 0 {
		var r reloc
		r.rela = rela
		switch {
		case l.f.Class == elf.ELFCLASS64 && rela:
			var e elf.Rela64
			if err := binary.Read(rd, bo, &e); err != nil {
				return nil, err
			}
			r.off, r.sym, r.typ, r.addend = e.Off, elf.R_SYM64(e.Info), elf.R_TYPE64(e.Info), e.Addend
		case l.f.Class == elf.ELFCLASS64:
			var e elf.Rel64
			if err := binary.Read(rd, bo, &e); err != nil {
				return nil, err
			}
			r.off, r.sym, r.typ = e.Off, elf.R_SYM64(e.Info), elf.R_TYPE64(e.Info)
		case rela:
			var e elf.Rela32
			if err := binary.Read(rd, bo, &e); err != nil {
				return nil, err
			}
			r.off, r.sym, r.typ, r.addend = uint64(e.Off), elf.R_SYM32(e.Info), elf.R_TYPE32(e.Info), int64(e.Addend)
		default:
			var e elf.Rel32
			if err := binary.Read(rd, bo, &e); err != nil {
				return nil, err
			}
			r.off, r.sym, r.typ = uint64(e.Off), elf.R_SYM32(e.Info), elf.R_TYPE32(e.Info)
		}
		out = append(out, r)
	}
	return out, nil
}

// symbolValue returns S for a relocation. Index 0 is the null symbol, which
// the debug/elf symbol slices omit.
func (l *loader) symbolValue(idx uint32, symtab []elf.Symbol) (uint64, bool) {
	if idx == 0 || int(idx) > len(symtab) {
		return 0, false
	}
	s := symtab[idx-1]
	if s.Section != elf.SHN_UNDEF {
		return s.Value, true
	}
	if sym, ok := l.img.symbols[s.Name]; ok && sym.Defined {
		return sym.Addr, true
	}
	if addr, ok := l.externs[s.Name]; ok {
		return addr, true
	}
	return 0, false
}

func (l *loader) apply(r reloc, symtab []elf.Symbol) {
	kind := l.classify(r.typ)
	if kind == relocIgnore {
		return
	}

	addend := uint64(r.addend)
	if !r.rela {
		// REL: the addend is stored in place.
		v, err := l.img.ReadPointer(r.off)
		if err != nil {
			return
		}
		addend = v
	}

	var value uint64
	switch kind {
	case relocRelative:
		// The image is loaded at its link address, so B is 0.
		value = addend
	case relocAbsolute, relocGlobDat:
		s, ok := l.symbolValue(r.sym, symtab)
		if !ok {
			return
		}
		value = s
		if kind == relocAbsolute || (kind == relocGlobDat && r.rela) {
			value += addend
		}
	}
	if err := l.img.writePointer(r.off, value); err != nil {
		log.WithError(err).Debugf("skipping relocation at %#x", r.off)
		return
	}
	l.applied++
}
