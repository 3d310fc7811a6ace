package rtti

import (
	"errors"
	"sort"

	"github.com/apex/log"
	mapset "github.com/deckarep/golang-set"

	"rtti2cheader/image"
)

// typeInfoSymbolPrefix is the mangling prefix of type_info objects.
const typeInfoSymbolPrefix = "_ZTI"

// Index is what the scanner needs from an image to find candidate records.
type Index interface {
	SymbolsWithPrefix(prefix string) []image.Symbol
	FindPointers(values ...uint64) []uint64
}

// Candidate sources
const (
	FromSymbol  = "symbol"
	FromPointer = "pointer"
)

type Failure struct {
	Addr   uint64
	Source string
	Err    error
}

type Result struct {
	Types      []*TypeInfo
	Failures   []Failure
	Candidates int
	Skipped    int // pointer-scan hits that were not type_info records
}

// Scanner finds type_info records in an image and parses each of them.
type Scanner struct {
	Parser *Parser
	Index  Index

	Symbols  bool // seed from _ZTI* symbols
	Pointers bool // seed from words equal to a known type_info vtable
}

func NewScanner(p *Parser, idx Index) *Scanner {
	return &Scanner{Parser: p, Index: idx, Symbols: true, Pointers: true}
}

// Candidates returns the de-duplicated candidate record addresses in
// address order, with the source that first proposed each.
func (s *Scanner) Candidates() ([]uint64, map[uint64]string) {
	seen := mapset.NewThreadUnsafeSet()
	source := make(map[uint64]string)
	var addrs []uint64
	add := func(addr uint64, from string) {
		if addr == 0 || !seen.Add(addr) {
			return
		}
		addrs = append(addrs, addr)
		source[addr] = from
	}

	if s.Symbols {
		for _, sym := range s.Index.SymbolsWithPrefix(typeInfoSymbolPrefix) {
			if sym.Defined {
				add(sym.Addr, FromSymbol)
			}
		}
	}
	if s.Pointers {
		vt := s.Parser.Vtables()
		for _, addr := range s.Index.FindPointers(vt.Class, vt.SI, vt.VMI) {
			add(addr, FromPointer)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs, source
}

// Run parses every candidate. Records reached as bases are parsed once and
// reported once.
func (s *Scanner) Run() Result {
	addrs, source := s.Candidates()
	res := Result{Candidates: len(addrs)}

	for _, addr := range addrs {
		if _, err := s.Parser.Parse(addr); err != nil {
			// a broken base makes a real record a failure, not noise
			if source[addr] == FromPointer && errors.Is(err, ErrNotRTTI) &&
				!errors.Is(err, ErrBaseUnresolvable) {
				log.WithError(err).Debugf("skipping %#x", addr)
				res.Skipped++
				continue
			}
			log.WithError(err).Warnf("failed to parse type_info at %#x", addr)
			res.Failures = append(res.Failures, Failure{Addr: addr, Source: source[addr], Err: err})
		}
	}
	res.Types = s.Parser.Cache().All()
	log.WithFields(log.Fields{
		"candidates": res.Candidates,
		"types":      len(res.Types),
		"failures":   len(res.Failures),
		"skipped":    res.Skipped,
	}).Info("rtti scan finished")
	return res
}
