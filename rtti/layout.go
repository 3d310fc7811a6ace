package rtti

// layout gives field offsets of the abi::__*class_type_info records for a
// given pointer size.
type layout struct {
	ptr int
}

func (l layout) vtableOff() uint64 { return 0 }
func (l layout) nameOff() uint64   { return uint64(l.ptr) }
func (l layout) headerSize() int   { return 2 * l.ptr }

// __si_class_type_info::__base_type
func (l layout) siBaseOff() uint64 { return uint64(2 * l.ptr) }

// __vmi_class_type_info::__flags, __base_count, __base_info[]
func (l layout) vmiFlagsOff() uint64 { return uint64(2 * l.ptr) }
func (l layout) vmiCountOff() uint64 { return uint64(2*l.ptr + 4) }
func (l layout) vmiBasesOff() uint64 { return uint64(2*l.ptr + 8) }

// __base_class_info::__base_type, __offset_flags
func (l layout) baseTypeOff() uint64  { return 0 }
func (l layout) baseFlagsOff() uint64 { return uint64(l.ptr) }
func (l layout) baseEntrySize() int   { return 2 * l.ptr }
