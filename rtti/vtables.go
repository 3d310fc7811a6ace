package rtti

import "github.com/apex/log"

// Vtable symbols of the three abi::__class_type_info implementations.
const (
	ClassTypeInfoVtable = "_ZTVN10__cxxabiv117__class_type_infoE"
	SITypeInfoVtable    = "_ZTVN10__cxxabiv120__si_class_type_infoE"
	VMITypeInfoVtable   = "_ZTVN10__cxxabiv121__vmi_class_type_infoE"
)

// ResolveVtables finds the vtable pointer value each record kind carries. A
// type_info's vptr points past the offset-to-top and typeinfo slots, two
// pointers into the vtable object.
func ResolveVtables(syms SymbolLookup, ptrSize int) (Vtables, error) {
	var vt Vtables
	skip := uint64(2 * ptrSize)
	for _, want := range []struct {
		sym string
		dst *uint64
	}{
		{ClassTypeInfoVtable, &vt.Class},
		{SITypeInfoVtable, &vt.SI},
		{VMITypeInfoVtable, &vt.VMI},
	} {
		addr, ok := syms.LookupSymbol(want.sym)
		if !ok {
			log.Debugf("vtable symbol %s not found", want.sym)
			continue
		}
		*want.dst = addr + skip
	}
	if vt.Class == 0 && vt.SI == 0 && vt.VMI == 0 {
		return vt, ErrNoVtables
	}
	return vt, nil
}
