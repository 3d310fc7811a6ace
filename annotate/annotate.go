// Package annotate keeps the names, data types and comments the RTTI parser
// assigns to addresses, and renders them as a listing, an IDC script or JSON.
package annotate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Errors
var (
	ErrNameConflict = errors.New("annotate: address already has a different name")
	ErrEmptyName    = errors.New("annotate: empty name")
	ErrInvalidSize  = errors.New("annotate: invalid item size")
)

// ItemKind is the data type given to an address.
type ItemKind uint8

const (
	ItemUnknown ItemKind = iota
	ItemRaw              // undefined bytes
	ItemOffset           // pointer rendered as an offset
	ItemDword            // 4-byte integer
)

func (k ItemKind) String() string {
	switch k {
	case ItemRaw:
		return "raw"
	case ItemOffset:
		return "offset"
	case ItemDword:
		return "dword"
	default:
		return "unknown"
	}
}

// Item is everything known about one address.
type Item struct {
	Addr    uint64   `json:"addr"`
	Kind    ItemKind `json:"kind"`
	Size    int      `json:"size,omitempty"`
	Base    uint64   `json:"base,omitempty"` // offset base for ItemOffset
	Name    string   `json:"name,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// DB is an in-memory annotation database.
type DB struct {
	mu    sync.Mutex
	items map[uint64]*Item
	names map[string]uint64
}

func New() *DB {
	return &DB{
		items: make(map[uint64]*Item),
		names: make(map[string]uint64),
	}
}

func (db *DB) item(addr uint64) *Item {
	it, ok := db.items[addr]
	if !ok {
		it = &Item{Addr: addr}
		db.items[addr] = it
	}
	return it
}

func (db *DB) setType(addr uint64, kind ItemKind, size int, base uint64) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d at %#x", ErrInvalidSize, size, addr)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	it := db.item(addr)
	it.Kind = kind
	it.Size = size
	it.Base = base
	return nil
}

// MarkRawBytes undefines size bytes at addr.
func (db *DB) MarkRawBytes(addr uint64, size int) error {
	return db.setType(addr, ItemRaw, size, 0)
}

// MarkSelfRelativePointer turns the pointer at addr into an offset computed
// from base.
func (db *DB) MarkSelfRelativePointer(addr uint64, size int, base uint64) error {
	return db.setType(addr, ItemOffset, size, base)
}

func (db *DB) MarkDword(addr uint64, size int) error {
	return db.setType(addr, ItemDword, size, 0)
}

func (db *DB) SetComment(addr uint64, text string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.item(addr).Comment = text
	return nil
}

// SetSymbolicName names addr prefix+name, sanitised to identifier
// characters. A name already used elsewhere gets a numeric suffix.
func (db *DB) SetSymbolicName(addr uint64, name, prefix string) error {
	if name == "" {
		return ErrEmptyName
	}
	want := Sanitize(prefix + name)

	db.mu.Lock()
	defer db.mu.Unlock()

	it := db.item(addr)
	if it.Name != "" {
		if it.Name == want || strings.HasPrefix(it.Name, want+"_") {
			return nil
		}
		return fmt.Errorf("%w: %#x is %s, not %s", ErrNameConflict, addr, it.Name, want)
	}

	final := want
	for i := 1; ; i++ {
		owner, taken := db.names[final]
		if !taken || owner == addr {
			break
		}
		final = fmt.Sprintf("%s_%d", want, i)
	}
	it.Name = final
	db.names[final] = addr
	return nil
}

// Sanitize maps a demangled name onto the characters accepted in a
// disassembler symbol.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		ok := r == '_' || r == '$' || r == '@' || r == '?' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), "_")
}

// Item returns a copy of the annotations at addr.
func (db *DB) Item(addr uint64) (Item, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	it, ok := db.items[addr]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// NameOf returns the name assigned to addr.
func (db *DB) NameOf(addr uint64) string {
	it, _ := db.Item(addr)
	return it.Name
}

// Items returns copies of all items sorted by address.
func (db *DB) Items() []Item {
	db.mu.Lock()
	out := make([]Item, 0, len(db.items))
	for _, it := range db.items {
		out = append(out, *it)
	}
	db.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.items)
}
