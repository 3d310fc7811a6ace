package dwarfhelper

import (
	"bytes"
	"debug/dwarf"
	"errors"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/leb128"
	"github.com/go-delve/delve/pkg/dwarf/op"
)

// typedef chains longer than this are treated as broken
const maxTypeChain = 16

// getTypeName follows typedefs and cv-qualifiers from off to a named class.
func (_this *DwarfInfo) getTypeName(off dwarf.Offset) string {
	for i := 0; i < maxTypeChain; i++ {
		if name, ok := _this.names[off]; ok {
			return name
		}
		entry, err := _this.getEntryByOffset(off)
		if err != nil {
			return "?"
		}
		next, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
		if !ok {
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				return name
			}
			return "?"
		}
		off = next
	}
	return "?"
}

func (_this *DwarfInfo) getEntryByOffset(offset dwarf.Offset) (*dwarf.Entry, error) {
	entry, ok := _this.Offset2entry[offset]
	if !ok {
		return nil, fmt.Errorf("offset %d not found", offset)
	}
	return entry, nil
}

var errShortExpr = errors.New("truncated location expression")

// memberOffset evaluates the constant location expressions compilers emit for
// data members and non-virtual bases. Anything else, such as the vtable
// lookup of a virtual base, reports ok == false.
func memberOffset(loc []byte) (offset int64, ok bool, err error) {
	if len(loc) == 0 {
		return 0, true, nil
	}
	buf := bytes.NewBuffer(loc)
	opcode, _ := buf.ReadByte()
	switch op.Opcode(opcode) {
	case op.DW_OP_plus_uconst:
		v, n := leb128.DecodeUnsigned(buf)
		if n == 0 {
			return 0, false, errShortExpr
		}
		offset = int64(v)
	case op.DW_OP_consts:
		v, n := leb128.DecodeSigned(buf)
		if n == 0 {
			return 0, false, errShortExpr
		}
		next, err := buf.ReadByte()
		if err != nil {
			return 0, false, errShortExpr
		}
		if op.Opcode(next) != op.DW_OP_plus {
			return 0, false, nil
		}
		offset = v
	default:
		return 0, false, nil
	}
	if buf.Len() != 0 {
		return 0, false, fmt.Errorf("%d trailing bytes in location expression", buf.Len())
	}
	return offset, true, nil
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "::" + name
}

func namespaceName(entry *dwarf.Entry) string {
	if name, ok := entry.Val(dwarf.AttrName).(string); ok && name != "" {
		return name
	}
	return "(anonymous namespace)"
}

// defaultAccess is the accessibility of a base without DW_AT_accessibility.
func defaultAccess(kind string) Access {
	if kind == "class" {
		return AccessPrivate
	}
	return AccessPublic
}
