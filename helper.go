package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/fatih/color"

	"rtti2cheader/annotate"
	"rtti2cheader/demangle"
	dwarfhelper "rtti2cheader/dwarf"
	"rtti2cheader/image"
	"rtti2cheader/rtti"
	"rtti2cheader/utils"
)

var (
	colorClass = color.New(color.Bold, color.FgHiMagenta).SprintFunc()
	colorAddr  = color.New(color.Faint).SprintfFunc()
	colorMod   = color.New(color.FgHiCyan).SprintFunc()
	colorBad   = color.New(color.FgHiRed).SprintFunc()
	colorGood  = color.New(color.FgHiGreen).SprintFunc()
)

type rttiOptions struct {
	Input   string
	Output  string
	Addr    string
	IDC     string
	JSON    string
	Listing string

	Vtables rtti.Vtables // non-zero fields override symbol lookup
	Config  rtti.Config
}

// loadImage opens the ELF image and works out the type_info vtables.
func loadImage(path string, override rtti.Vtables) (*image.Image, rtti.Vtables, error) {
	img, err := image.Open(path)
	if err != nil {
		return nil, rtti.Vtables{}, err
	}
	vt, err := rtti.ResolveVtables(img, img.PointerSize())
	if override.Class != 0 {
		vt.Class = override.Class
	}
	if override.SI != 0 {
		vt.SI = override.SI
	}
	if override.VMI != 0 {
		vt.VMI = override.VMI
	}
	if err != nil && vt == (rtti.Vtables{}) {
		return nil, vt, err
	}
	log.WithFields(log.Fields{
		"class": fmt.Sprintf("%#x", vt.Class),
		"si":    fmt.Sprintf("%#x", vt.SI),
		"vmi":   fmt.Sprintf("%#x", vt.VMI),
	}).Debug("type_info vtables")
	return img, vt, nil
}

func RttiHelper(opts rttiOptions) error {
	img, vt, err := loadImage(opts.Input, opts.Vtables)
	if err != nil {
		return err
	}
	db := annotate.New()
	parser := rtti.NewParser(img, demangle.Demangler{}, db, vt, nil, opts.Config)

	var types []*rtti.TypeInfo
	if opts.Addr != "" {
		addr, err := utils.ParseAddress(opts.Addr)
		if err != nil {
			return err
		}
		if _, err := parser.Parse(addr); err != nil {
			return err
		}
		types = parser.Cache().All()
	} else {
		res := rtti.NewScanner(parser, img).Run()
		types = res.Types
	}

	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return err
	}
	if err := GenerateClassCHeaderFile(filepath.Join(opts.Output, "classes.h"), types); err != nil {
		return err
	}
	PrintHierarchy(os.Stdout, types)

	for _, out := range []struct {
		path  string
		write func(io.Writer) error
	}{
		{opts.IDC, db.WriteIDC},
		{opts.JSON, db.WriteJSON},
		{opts.Listing, db.WriteListing},
	} {
		if out.path == "" {
			continue
		}
		if err := writeFile(out.path, out.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	create, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(create); err != nil {
		create.Close()
		return err
	}
	return create.Close()
}

func GenerateClassCHeaderFile(path string, types []*rtti.TypeInfo) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteClassHeader(w, types)
	})
}

// WriteClassHeader declares every recovered class with its bases. Types are
// expected in cache order, which puts bases first.
func WriteClassHeader(w io.Writer, types []*rtti.TypeInfo) error {
	if _, err := io.WriteString(w, "#pragma once\n\n"); err != nil {
		return err
	}
	for _, t := range types {
		if utils.FilterClassName(t.Name) {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "// typeinfo: %#x (%s)\n", t.Address, t.Kind)
		if len(t.Parents) == 0 {
			fmt.Fprintf(&sb, "class %s {\n", t.Name)
		} else {
			fmt.Fprintf(&sb, "class %s : %s {\n", t.Name, baseClause(t))
		}
		for _, p := range t.Parents {
			if t.Kind == rtti.KindMulti && !p.Flags.IsVirtual() {
				fmt.Fprintf(&sb, "\t// %s at +%#x\n", p.Base.Name, p.Flags.Offset())
			}
		}
		sb.WriteString("};\n\n")
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func baseClause(t *rtti.TypeInfo) string {
	parts := make([]string, 0, len(t.Parents))
	for _, p := range t.Parents {
		parts = append(parts, inheritance(t, p)+p.Base.Name)
	}
	return strings.Join(parts, ", ")
}

// inheritance renders the access and virtual specifiers of a base. The
// record does not tell protected from private.
func inheritance(child *rtti.TypeInfo, p rtti.Parent) string {
	s := "private "
	if p.Public(child) {
		s = "public "
	}
	if child.Kind == rtti.KindMulti && p.Flags.IsVirtual() {
		s += "virtual "
	}
	return s
}

// PrintHierarchy prints each most-derived class with its base chains.
func PrintHierarchy(w io.Writer, types []*rtti.TypeInfo) {
	isBase := make(map[uint64]bool)
	for _, t := range types {
		for _, p := range t.Parents {
			isBase[p.Address] = true
		}
	}
	for _, t := range types {
		if isBase[t.Address] {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", colorClass(t.Name), colorAddr("@ %#x", t.Address))
		printBases(w, t, "  ")
	}
}

func printBases(w io.Writer, t *rtti.TypeInfo, indent string) {
	for _, p := range t.Parents {
		offset := ""
		if t.Kind == rtti.KindMulti && !p.Flags.IsVirtual() {
			offset = colorAddr(" +%#x", p.Flags.Offset())
		}
		fmt.Fprintf(w, "%s└─ %s%s %s%s\n", indent, colorMod(inheritance(t, p)), colorClass(p.Base.Name),
			colorAddr("@ %#x", p.Address), offset)
		printBases(w, p.Base, indent+"   ")
	}
}

func VerifyHelper(ipath string, cfg rtti.Config) error {
	img, vt, err := loadImage(ipath, rtti.Vtables{})
	if err != nil {
		return err
	}
	parser := rtti.NewParser(img, demangle.Demangler{}, nil, vt, nil, cfg)
	res := rtti.NewScanner(parser, img).Run()

	info, err := dwarfhelper.NewDwarfInfo(ipath)
	if err != nil {
		return err
	}
	defer info.Close()
	if err := info.Load(); err != nil {
		return err
	}

	rep := dwarfhelper.Compare(res.Types, info.GetClassMap())
	for _, m := range rep.Mismatches {
		fmt.Printf("%s %s: %s rtti=%s dwarf=%s\n", colorBad("MISMATCH"), colorClass(m.Class), m.Field, m.RTTI, m.DWARF)
	}
	for _, name := range rep.Missing {
		log.Debugf("%s has no DWARF definition", name)
	}
	fmt.Printf("%s %d, mismatched %d, without DWARF %d\n",
		colorGood("matched"), rep.Matched, len(rep.Mismatches), len(rep.Missing))
	if len(rep.Mismatches) != 0 {
		return fmt.Errorf("%d mismatches against DWARF", len(rep.Mismatches))
	}
	return nil
}

func DwarfHelper(ipath string) error {
	info, err := dwarfhelper.NewDwarfInfo(ipath)
	if err != nil {
		if errors.Is(err, dwarfhelper.ErrNoDWARF) {
			return fmt.Errorf("%s: %w", ipath, err)
		}
		return err
	}
	defer info.Close()
	if err := info.Load(); err != nil {
		return err
	}
	for _, c := range info.Classes() {
		if utils.FilterClassName(c.Name) {
			continue
		}
		fmt.Printf("%s %s\n", c, colorAddr("// size %#x", c.ByteSize))
	}
	return nil
}
