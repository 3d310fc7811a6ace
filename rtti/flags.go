package rtti

import (
	"fmt"
	"strings"
)

// __base_class_info::__offset_flags_masks
const (
	VirtualMask = 0x1
	PublicMask  = 0x2
	OffsetShift = 8
)

// BaseFlags is the raw __offset_flags word of a __base_class_info entry.
type BaseFlags uint64

// BaseInfo is the decomposed form of an offset/flags word.
type BaseInfo struct {
	Virtual bool
	Public  bool
	Offset  uint64
}

// DecodeBaseFlags splits word into its virtual bit, public bit and the
// offset held in the bits above shift.
func DecodeBaseFlags(word, virtualMask, publicMask uint64, shift uint) BaseInfo {
	return BaseInfo{
		Virtual: word&virtualMask != 0,
		Public:  word&publicMask != 0,
		Offset:  word >> shift,
	}
}

func (f BaseFlags) Decode() BaseInfo {
	return DecodeBaseFlags(uint64(f), VirtualMask, PublicMask, OffsetShift)
}

func (f BaseFlags) IsVirtual() bool { return f.Decode().Virtual }
func (f BaseFlags) IsPublic() bool  { return f.Decode().Public }
func (f BaseFlags) Offset() uint64  { return f.Decode().Offset }

// SignedOffset interprets the word as the ABI's signed long. For virtual
// bases this is the (negative) displacement of the virtual base offset in
// the vtable rather than an object offset.
func (f BaseFlags) SignedOffset(ptrSize int) int64 {
	if ptrSize == 4 {
		return int64(int32(uint32(f))) >> OffsetShift
	}
	return int64(f) >> OffsetShift
}

// Comment lists the flag bits and the offset field that are set.
func (f BaseFlags) Comment() string {
	info := f.Decode()
	var parts []string
	if info.Virtual {
		parts = append(parts, "virtual_mask")
	}
	if info.Public {
		parts = append(parts, "public_mask")
	}
	if info.Offset != 0 {
		parts = append(parts, fmt.Sprintf("offset_shift(%#x)", info.Offset))
	}
	return strings.Join(parts, " ")
}
