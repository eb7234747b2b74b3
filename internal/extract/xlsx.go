package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/xuri/excelize/v2"
)

// XLSX extracts the table on the first sheet of a workbook. Blank lines above
// the header are skipped.
type XLSX struct{}

func (XLSX) Extract(ctx context.Context, path string) (table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("XLSX.Extract: open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoTable
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("XLSX.Extract: read sheet %q: %w", sheets[0], err)
	}

	for len(rows) > 0 && blankRow(rows[0]) {
		rows = rows[1:]
	}
	return gridToTable(rows)
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
