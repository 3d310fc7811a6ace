package dwarfhelper

import (
	"fmt"
	"strings"

	"rtti2cheader/rtti"
)

// Mismatch is one point where a recovered hierarchy and the debug info
// disagree.
type Mismatch struct {
	Class string
	Field string
	RTTI  string
	DWARF string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s: rtti=%s dwarf=%s", m.Class, m.Field, m.RTTI, m.DWARF)
}

// Report summarises a Compare run.
type Report struct {
	Matched    int
	Missing    []string // recovered classes with no DWARF definition
	Mismatches []Mismatch
}

// Compare checks each recovered class against the DWARF definition of the
// same name: base names and order, virtuality, accessibility and the offset
// of non-virtual bases.
func Compare(types []*rtti.TypeInfo, classes map[string]*Class) Report {
	var rep Report
	for _, t := range types {
		c, ok := classes[t.Name]
		if !ok {
			rep.Missing = append(rep.Missing, t.Name)
			continue
		}
		found := compareClass(t, c)
		if len(found) == 0 {
			rep.Matched++
			continue
		}
		rep.Mismatches = append(rep.Mismatches, found...)
	}
	return rep
}

func compareClass(t *rtti.TypeInfo, c *Class) []Mismatch {
	var out []Mismatch
	add := func(field, r, d string) {
		out = append(out, Mismatch{Class: t.Name, Field: field, RTTI: r, DWARF: d})
	}

	if len(t.Parents) != len(c.Bases) {
		add("bases", rttiBaseList(t), dwarfBaseList(c))
		return out
	}
	for i, p := range t.Parents {
		b := c.Bases[i]
		field := fmt.Sprintf("base[%d]", i)
		if p.Base.Name != b.Name {
			add(field+".name", p.Base.Name, b.Name)
			continue
		}
		virtual := t.Kind == rtti.KindMulti && p.Flags.IsVirtual()
		if virtual != b.Virtual {
			add(field+".virtual", fmt.Sprint(virtual), fmt.Sprint(b.Virtual))
		}
		public := p.Public(t)
		if public != (b.Access == AccessPublic) {
			add(field+".access", accessOf(public), b.Access.String())
		}
		if !virtual && !b.Virtual && b.HasOffset {
			var offset uint64
			if t.Kind == rtti.KindMulti {
				offset = p.Flags.Offset()
			}
			if offset != uint64(b.ByteOffset) {
				add(field+".offset", fmt.Sprintf("%#x", offset), fmt.Sprintf("%#x", b.ByteOffset))
			}
		}
	}
	return out
}

func accessOf(public bool) string {
	if public {
		return "public"
	}
	return "non-public"
}

func rttiBaseList(t *rtti.TypeInfo) string {
	names := make([]string, 0, len(t.Parents))
	for _, p := range t.Parents {
		names = append(names, p.Base.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func dwarfBaseList(c *Class) string {
	names := make([]string, 0, len(c.Bases))
	for _, b := range c.Bases {
		names = append(names, b.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}
