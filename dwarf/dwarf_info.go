package dwarfhelper

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"github.com/apex/log"
	"github.com/go-delve/delve/pkg/dwarf/godwarf"
)

var (
	ErrNoDWARF = errors.New("dwarfhelper: no DWARF data")
	ErrDecode  = errors.New("dwarfhelper: malformed DWARF")
)

type DwarfInfo struct {
	elfFile      *elf.File
	data         *dwarf.Data
	classMap     map[string]*Class
	typeCache    map[dwarf.Offset]godwarf.Type
	names        map[dwarf.Offset]string
	defs         []*Class
	Offset2entry map[dwarf.Offset]*dwarf.Entry
}

func NewDwarfInfo(input string) (*DwarfInfo, error) {
	elfFile, err := elf.Open(input)
	if err != nil {
		return nil, err
	}
	dwarfOut, err := DWARF(elfFile)
	if err != nil {
		elfFile.Close()
		return nil, err
	}
	info := NewFromData(dwarfOut)
	info.elfFile = elfFile
	return info, nil
}

func NewFromData(d *dwarf.Data) *DwarfInfo {
	return &DwarfInfo{
		data:         d,
		classMap:     make(map[string]*Class),
		typeCache:    make(map[dwarf.Offset]godwarf.Type),
		names:        make(map[dwarf.Offset]string),
		Offset2entry: make(map[dwarf.Offset]*dwarf.Entry),
	}
}

func (_this *DwarfInfo) Close() error {
	if _this.elfFile == nil {
		return nil
	}
	return _this.elfFile.Close()
}

func (_this *DwarfInfo) GetData() *dwarf.Data {
	return _this.data
}

func (_this *DwarfInfo) GetClassMap() map[string]*Class {
	return _this.classMap
}

// Classes returns the loaded classes sorted by name.
func (_this *DwarfInfo) Classes() []*Class {
	out := make([]*Class, 0, len(_this.classMap))
	for _, c := range _this.classMap {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type scope struct {
	prefix string
	class  *Class
	local  bool // inside a function body or an unnamed type
}

// Load walks every compilation unit and collects class definitions with
// their direct bases.
func (_this *DwarfInfo) Load() error {
	reader := _this.data.Reader()
	stack := []scope{{}}

	for {
		entry, err := reader.Next()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		top := stack[len(stack)-1]
		child := scope{prefix: top.prefix, local: top.local}

		switch entry.Tag {
		case dwarf.TagCompileUnit, dwarf.TagPartialUnit, dwarf.TagTypeUnit:
			child = scope{}
		case dwarf.TagNamespace:
			child.prefix = qualify(top.prefix, namespaceName(entry))
		case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
			_this.Offset2entry[entry.Offset] = entry
			name, _ := entry.Val(dwarf.AttrName).(string)
			if name == "" {
				child.local = true
				break
			}
			qualified := qualify(top.prefix, name)
			child.prefix = qualified
			if top.local {
				break
			}
			_this.names[entry.Offset] = qualified
			if entry.Tag != dwarf.TagUnionType && entry.Val(dwarf.AttrDeclaration) == nil {
				child.class = _this.addClass(entry, qualified)
			}
		case dwarf.TagInheritance:
			if top.class == nil {
				break
			}
			base, err := _this.readBase(entry, top.class.Kind)
			if err != nil {
				log.WithError(err).Debugf("skipping base of %s", top.class.Name)
				break
			}
			top.class.Bases = append(top.class.Bases, base)
		case dwarf.TagSubprogram, dwarf.TagLexDwarfBlock, dwarf.TagInlinedSubroutine:
			child.local = true
		case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType:
			_this.Offset2entry[entry.Offset] = entry
		}

		if entry.Children {
			stack = append(stack, child)
		}
	}

	_this.commit()
	return nil
}

// commit resolves base names and indexes classes by name. The first
// definition of a name wins unless it lists no bases and a later one does.
func (_this *DwarfInfo) commit() {
	for _, c := range _this.defs {
		for _, b := range c.Bases {
			b.Name = _this.getTypeName(b.Type)
		}
		if prev, ok := _this.classMap[c.Name]; ok {
			if len(prev.Bases) != 0 || len(c.Bases) == 0 {
				continue
			}
		}
		_this.classMap[c.Name] = c
	}
	_this.defs = nil
	log.Debugf("loaded %d DWARF classes", len(_this.classMap))
}

func (_this *DwarfInfo) addClass(entry *dwarf.Entry, name string) *Class {
	c := &Class{Name: name, Kind: "struct", Offset: entry.Offset}
	if entry.Tag == dwarf.TagClassType {
		c.Kind = "class"
	}
	c.ByteSize, _ = entry.Val(dwarf.AttrByteSize).(int64)
	if typ, err := godwarf.ReadType(_this.data, 0, entry.Offset, _this.typeCache); err == nil {
		c.ByteSize = typ.Size()
	} else {
		log.WithError(err).Debugf("reading type of %s", name)
	}
	_this.defs = append(_this.defs, c)
	return c
}

func (_this *DwarfInfo) readBase(entry *dwarf.Entry, kind string) (*Base, error) {
	off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, fmt.Errorf("%w: inheritance at %#x has no type", ErrDecode, entry.Offset)
	}
	base := &Base{Type: off, Access: defaultAccess(kind)}
	if a, ok := entry.Val(dwarf.AttrAccessibility).(int64); ok {
		base.Access = Access(a)
	}
	if v, ok := entry.Val(dwarf.AttrVirtuality).(int64); ok {
		base.Virtual = v == virtualityVirtual
	}

	switch loc := entry.Val(dwarf.AttrDataMemberLoc).(type) {
	case int64:
		base.ByteOffset, base.HasOffset = loc, true
	case []byte:
		var err error
		base.ByteOffset, base.HasOffset, err = memberOffset(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: inheritance at %#x: %w", ErrDecode, entry.Offset, err)
		}
	case nil:
		base.HasOffset = !base.Virtual
	}
	return base, nil
}
