package annotate

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// WriteListing writes one line per annotated address.
func (db *DB) WriteListing(w io.Writer) error {
	for _, it := range db.Items() {
		line := fmt.Sprintf("%016x  %-7s", it.Addr, it.Kind)
		if it.Size > 0 {
			line += fmt.Sprintf(" %2d", it.Size)
		} else {
			line += "   "
		}
		if it.Kind == ItemOffset {
			line += fmt.Sprintf(" base=%#x", it.Base)
		}
		if it.Name != "" {
			line += " " + it.Name
		}
		if it.Comment != "" {
			line += " ; " + it.Comment
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteIDC writes an IDC script that applies the annotations to a database
// of the same binary.
func (db *DB) WriteIDC(w io.Writer) error {
	if _, err := fmt.Fprint(w, "#include <idc.idc>\n\nstatic main()\n{\n"); err != nil {
		return err
	}
	for _, it := range db.Items() {
		var lines []string
		switch it.Kind {
		case ItemRaw:
			lines = append(lines, fmt.Sprintf("del_items(%#x, DELIT_SIMPLE, %d);", it.Addr, it.Size))
		case ItemOffset:
			lines = append(lines,
				fmt.Sprintf("del_items(%#x, DELIT_SIMPLE, %d);", it.Addr, it.Size),
				fmt.Sprintf("create_data(%#x, %s, %d, BADADDR);", it.Addr, dataFlag(it.Size), it.Size),
				fmt.Sprintf("op_plain_offset(%#x, 0, %#x);", it.Addr, it.Base))
		case ItemDword:
			lines = append(lines,
				fmt.Sprintf("del_items(%#x, DELIT_SIMPLE, %d);", it.Addr, it.Size),
				fmt.Sprintf("create_dword(%#x);", it.Addr))
		}
		if it.Name != "" {
			lines = append(lines, fmt.Sprintf("set_name(%#x, %s, SN_NOWARN);", it.Addr, strconv.Quote(it.Name)))
		}
		if it.Comment != "" {
			lines = append(lines, fmt.Sprintf("set_cmt(%#x, %s, 0);", it.Addr, strconv.Quote(it.Comment)))
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "\t%s\n", l); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprint(w, "}\n")
	return err
}

func dataFlag(size int) string {
	if size == 4 {
		return "FF_DWORD"
	}
	return "FF_QWORD"
}

// WriteJSON writes the items as a JSON array.
func (db *DB) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(db.Items())
}
