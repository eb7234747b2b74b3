package table

import (
	"fmt"
	"strings"
)

// Normalize renames the blank-labelled account column to canonical.
//
// The rename is applied only when the first entry of t is an object that has a
// column labelled "". In that case every object entry carrying a "" column gets
// it renamed; the value is kept and the "" key removed. Entries without the
// column, and entries that are not objects, are left as they are.
//
// The returned table has the same length and order as t. Rows that change are
// copied, so t itself is never modified.
func Normalize(t Table, canonical string) Table {
	if len(t) == 0 {
		return t
	}
	if !t[0].Has("") {
		return t
	}

	out := make(Table, len(t))
	for i, row := range t {
		if !row.Has("") {
			out[i] = row
			continue
		}
		renamed := row.Clone()
		v, _ := renamed.Get("")
		renamed.Delete("")
		renamed.Set(canonical, v)
		out[i] = renamed
	}
	return out
}

// FromGrid builds rows from a header line and data lines. Column i is labelled
// header[i], or col_<i+1> when the header is shorter than the line. Labels and
// cells are trimmed; cells that are then empty become null.
func FromGrid(header []string, lines [][]string) Table {
	return fromGrid(header, lines, strings.TrimSpace)
}

// FromRawGrid is FromGrid without trimming: labels and cells are kept as
// given and only empty cells become null.
func FromRawGrid(header []string, lines [][]string) Table {
	return fromGrid(header, lines, func(s string) string { return s })
}

func fromGrid(header []string, lines [][]string, clean func(string) string) Table {
	t := make(Table, 0, len(lines))
	for _, line := range lines {
		row := NewRow()
		for i, cell := range line {
			key := fmt.Sprintf("col_%d", i+1)
			if i < len(header) {
				key = clean(header[i])
			}
			cell = clean(cell)
			if cell == "" {
				row.Set(key, nil)
				continue
			}
			row.Set(key, cell)
		}
		t = append(t, row)
	}
	return t
}
