// Package rtti reconstructs C++ class hierarchies from the type_info records
// a GCC-compatible compiler emits (Itanium C++ ABI).
package rtti

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/apex/log"
	mapset "github.com/deckarep/golang-set"

	"rtti2cheader/demangle"
)

// NamePrefix is prepended to class names when naming type_info records.
const NamePrefix = "RTTI_"

// typeInfoNamePrefix turns a type_info name string into a mangled symbol.
const typeInfoNamePrefix = "_ZTS"

// Config bounds a parse.
type Config struct {
	// MaxDepth is the deepest inheritance chain followed before giving up.
	MaxDepth int
	// MaxNameLength caps the type_info name string read.
	MaxNameLength int
	// NamePrefix is prepended to the class name of each record.
	NamePrefix string
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:      64,
		MaxNameLength: 1024,
		NamePrefix:    NamePrefix,
	}
}

// Parser reads type_info records and their bases into a Cache.
// Parse calls are serialised; the cache may be read concurrently.
type Parser struct {
	mem       Memory
	demangler Demangler
	annotator Annotator
	vtables   Vtables
	cache     *Cache
	cfg       Config
	lay       layout

	mu         sync.Mutex
	inProgress mapset.Set
}

// NewParser creates a parser. A nil annotator discards annotations and a nil
// cache starts a fresh one.
func NewParser(mem Memory, d Demangler, a Annotator, vt Vtables, cache *Cache, cfg Config) *Parser {
	if a == nil {
		a = nopAnnotator{}
	}
	if cache == nil {
		cache = NewCache()
	}
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}
	return &Parser{
		mem:        mem,
		demangler:  d,
		annotator:  a,
		vtables:    vt,
		cache:      cache,
		cfg:        cfg,
		lay:        layout{ptr: mem.PointerSize()},
		inProgress: mapset.NewThreadUnsafeSet(),
	}
}

func (p *Parser) Cache() *Cache    { return p.cache }
func (p *Parser) Vtables() Vtables { return p.vtables }
func (p *Parser) PointerSize() int { return p.lay.ptr }

// Parse returns the type_info record at addr with its bases resolved.
func (p *Parser) Parse(addr uint64) (*TypeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parse(addr, 0)
}

func (p *Parser) parse(ea uint64, depth int) (*TypeInfo, error) {
	if t, ok := p.cache.Get(ea); ok {
		return t, nil
	}
	if depth > p.cfg.MaxDepth {
		return nil, &ParseError{Addr: ea, Field: "depth", Err: fmt.Errorf("%w: limit %d", ErrTooDeep, p.cfg.MaxDepth)}
	}
	if p.inProgress.Contains(ea) {
		return nil, &ParseError{Addr: ea, Field: "base", Err: ErrCycle}
	}
	p.inProgress.Add(ea)
	defer p.inProgress.Remove(ea)

	header, err := p.mem.ReadBytes(ea, p.lay.headerSize())
	if err != nil {
		return nil, readError(ea, "header", err)
	}
	vtable := p.pointer(header[p.lay.vtableOff():])
	nameEA := p.pointer(header[p.lay.nameOff():])

	name, err := p.className(ea, nameEA)
	if err != nil {
		return nil, err
	}

	p.annotateHeader(ea, name)

	result := &TypeInfo{
		Address: ea,
		Name:    name,
		Vtable:  vtable,
		Kind:    p.vtables.Classify(vtable),
	}

	switch result.Kind {
	case KindNoBase:
	case KindSingle:
		parent, err := p.parseSingle(ea, depth)
		if err != nil {
			return nil, err
		}
		result.Parents = []Parent{parent}
	case KindMulti:
		flags, parents, err := p.parseMulti(ea, depth)
		if err != nil {
			return nil, err
		}
		result.VMIFlags = flags
		result.Parents = parents
	default:
		return nil, notRTTI(ea, "vtable", fmt.Sprintf("unknown type_info vtable %#x for %s", vtable, name))
	}

	log.WithFields(log.Fields{
		"addr":  fmt.Sprintf("%#x", ea),
		"kind":  result.Kind.String(),
		"bases": len(result.Parents),
	}).Debugf("parsed %s", name)
	return p.cache.Insert(ea, result), nil
}

// className reads the type_info name string at nameEA and demangles it.
func (p *Parser) className(ea, nameEA uint64) (string, error) {
	raw, err := p.mem.ReadCString(nameEA, p.cfg.MaxNameLength)
	if err != nil {
		return "", readError(ea, "name", err)
	}
	// GCC marks names of types compared by address with a leading '*'.
	mangled := strings.TrimPrefix(string(raw), "*")
	if mangled == "" {
		return "", notRTTI(ea, "name", "empty type name")
	}

	display, kind, err := p.demangler.Demangle(typeInfoNamePrefix + mangled)
	if err != nil {
		return "", notRTTI(ea, "name", err.Error())
	}
	if kind != demangle.RTTIKind {
		return "", notRTTI(ea, "name", fmt.Sprintf("symbol kind %s is not a type_info name", kind))
	}
	name := strings.TrimPrefix(display, demangle.RTTINamePrefix)
	if name == "" {
		return "", notRTTI(ea, "name", "empty demangled name")
	}
	return name, nil
}

func (p *Parser) parseSingle(ea uint64, depth int) (Parent, error) {
	fieldEA := ea + p.lay.siBaseOff()
	b, err := p.mem.ReadBytes(fieldEA, p.lay.ptr)
	if err != nil {
		return Parent{}, readError(ea, "si base", err)
	}
	baseEA := p.pointer(b)

	base, err := p.parse(baseEA, depth+1)
	if err != nil {
		return Parent{}, baseError(ea, "si base", baseEA, err)
	}

	p.note(p.annotator.MarkRawBytes(fieldEA, p.lay.ptr))
	p.note(p.annotator.MarkSelfRelativePointer(fieldEA, p.lay.ptr, ea))

	return Parent{Address: base.Address, Base: base}, nil
}

func (p *Parser) parseMulti(ea uint64, depth int) (uint32, []Parent, error) {
	order := p.mem.ByteOrder()
	hdr, err := p.mem.ReadBytes(ea+p.lay.vmiFlagsOff(), 8)
	if err != nil {
		return 0, nil, readError(ea, "vmi header", err)
	}
	flags := order.Uint32(hdr[0:4])
	count := order.Uint32(hdr[4:8])

	flagsEA := ea + p.lay.vmiFlagsOff()
	countEA := ea + p.lay.vmiCountOff()
	p.note(p.annotator.MarkRawBytes(flagsEA, 4))
	p.note(p.annotator.MarkDword(flagsEA, 4))
	p.note(p.annotator.MarkRawBytes(countEA, 4))
	p.note(p.annotator.MarkDword(countEA, 4))

	var parents []Parent
	entryEA := ea + p.lay.vmiBasesOff()
	for i := uint32(0); i < count; i++ {
		field := fmt.Sprintf("base[%d]", i)
		entry, err := p.mem.ReadBytes(entryEA, p.lay.baseEntrySize())
		if err != nil {
			return 0, nil, readError(ea, field, err)
		}
		baseEA := p.pointer(entry[p.lay.baseTypeOff():])
		word := BaseFlags(p.pointer(entry[p.lay.baseFlagsOff():]))

		base, err := p.parse(baseEA, depth+1)
		if err != nil {
			return 0, nil, baseError(ea, field, baseEA, err)
		}

		ptrEA := entryEA + p.lay.baseTypeOff()
		flagsEA := entryEA + p.lay.baseFlagsOff()
		p.note(p.annotator.MarkRawBytes(ptrEA, p.lay.ptr))
		p.note(p.annotator.MarkSelfRelativePointer(ptrEA, p.lay.ptr, entryEA))
		p.note(p.annotator.MarkRawBytes(flagsEA, p.lay.ptr))
		p.note(p.annotator.MarkDword(flagsEA, 4))
		if c := word.Comment(); c != "" {
			p.note(p.annotator.SetComment(flagsEA, c))
		}

		parents = append(parents, Parent{Address: base.Address, Base: base, Flags: word})
		entryEA += uint64(p.lay.baseEntrySize())
	}
	return flags, parents, nil
}

func (p *Parser) annotateHeader(ea uint64, name string) {
	vtableEA := ea + p.lay.vtableOff()
	nameEA := ea + p.lay.nameOff()
	p.note(p.annotator.MarkRawBytes(vtableEA, p.lay.ptr))
	p.note(p.annotator.MarkSelfRelativePointer(vtableEA, p.lay.ptr, ea))
	p.note(p.annotator.MarkRawBytes(nameEA, p.lay.ptr))
	p.note(p.annotator.MarkSelfRelativePointer(nameEA, p.lay.ptr, ea))
	p.note(p.annotator.SetSymbolicName(ea, name, p.cfg.NamePrefix))
}

func (p *Parser) note(err error) {
	if err != nil {
		log.WithError(err).Debug("annotation skipped")
	}
}

func (p *Parser) pointer(b []byte) uint64 {
	return readPointer(b, p.lay.ptr, p.mem.ByteOrder())
}

func readPointer(b []byte, size int, order binary.ByteOrder) uint64 {
	if size == 4 {
		return uint64(order.Uint32(b))
	}
	return order.Uint64(b)
}

func baseError(ea uint64, field string, baseEA uint64, err error) error {
	return &ParseError{
		Addr:  ea,
		Field: field,
		Err:   fmt.Errorf("%w: %#x: %w", ErrBaseUnresolvable, baseEA, err),
	}
}
