package rtti

import (
	"errors"
	"fmt"
)

var (
	// ErrRead indicates the byte source could not satisfy a read.
	ErrRead = errors.New("rtti: read failed")

	// ErrNotRTTI indicates the bytes at an address are not a type_info record.
	ErrNotRTTI = errors.New("rtti: not a type_info record")

	// ErrBaseUnresolvable indicates a base class record could not be parsed.
	ErrBaseUnresolvable = errors.New("rtti: base class unresolvable")

	// ErrTooDeep indicates the inheritance walk exceeded Config.MaxDepth.
	ErrTooDeep = errors.New("rtti: inheritance too deep")

	// ErrCycle indicates a record (directly or transitively) lists itself as a base.
	ErrCycle = errors.New("rtti: cyclic inheritance")

	// ErrNoVtables indicates none of the __cxxabiv1 vtables could be located.
	ErrNoVtables = errors.New("rtti: no class_type_info vtables found")
)

// ParseError records where parsing a type_info record failed.
type ParseError struct {
	Addr  uint64 // address of the record being parsed
	Field string // record field or step that failed
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rtti: parse error at %#x (%s): %v", e.Addr, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func readError(addr uint64, field string, err error) error {
	return &ParseError{Addr: addr, Field: field, Err: fmt.Errorf("%w: %w", ErrRead, err)}
}

func notRTTI(addr uint64, field, msg string) error {
	return &ParseError{Addr: addr, Field: field, Err: fmt.Errorf("%w: %s", ErrNotRTTI, msg)}
}
