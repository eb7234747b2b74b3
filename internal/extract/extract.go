// Package extract turns submitted documents into table rows.
//
// Each extractor reads the first table of a document and returns it as rows
// keyed by the table's header line. No normalization is applied here; callers
// run table.Normalize before persisting.
package extract

import (
	"context"
	"errors"

	"github.com/dvloznov/report-extractor/internal/table"
)

var (
	// ErrNoTable is returned when a document carries no readable table.
	ErrNoTable = errors.New("extract: no table found in document")

	// ErrNotJSONArray is returned when model output does not start with '['.
	ErrNotJSONArray = errors.New("extract: model output is not a JSON array")

	// ErrInvalidJSON is returned when model output cannot be decoded.
	ErrInvalidJSON = errors.New("extract: model output is not valid JSON")
)

// Extractor reads the first table of the document at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (table.Table, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, path string) (table.Table, error)

func (f Func) Extract(ctx context.Context, path string) (table.Table, error) {
	return f(ctx, path)
}

// gridToTable splits the header line off a grid and builds trimmed rows from
// the rest.
func gridToTable(grid [][]string) (table.Table, error) {
	if len(grid) == 0 {
		return nil, ErrNoTable
	}
	return table.FromGrid(grid[0], grid[1:]), nil
}

// rawGridToTable is gridToTable keeping labels and cells untrimmed.
func rawGridToTable(grid [][]string) (table.Table, error) {
	if len(grid) == 0 {
		return nil, ErrNoTable
	}
	return table.FromRawGrid(grid[0], grid[1:]), nil
}
