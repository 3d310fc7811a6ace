package utils

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
)

// scopes whose classes come from the runtime and are left out of headers
var filterList = []interface{}{"std", "__gnu_cxx", "__cxxabiv1", "__gnu_debug", "__pstl"}

// FilterClassName reports whether a class should be left out of generated
// headers: runtime library classes and names that cannot be declared.
func FilterClassName(name string) bool {
	if len(name) == 0 {
		return true
	}
	s := mapset.NewSetFromSlice(filterList)
	scope, _, _ := strings.Cut(name, "::")
	if s.Contains(scope) {
		return true
	}
	// lambdas and unnamed types
	return strings.ContainsAny(name, "{}")
}

// ParseAddress parses a hex address with or without the 0x prefix.
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	addr, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}
