package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dvloznov/report-extractor/internal/table"
)

// HTML extracts the first <table> of an HTML document, such as a statement
// exported from a web banking portal.
type HTML struct{}

func (HTML) Extract(ctx context.Context, path string) (table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("HTML.Extract: open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("HTML.Extract: parse: %w", err)
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return nil, ErrNoTable
	}

	grid := [][]string{}
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Rows of tables nested in a cell belong to that cell.
		if tr.Closest("table").Get(0) != tbl.Get(0) {
			return
		}
		cells := []string{}
		tr.ChildrenFiltered("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(cells) > 0 {
			grid = append(grid, cells)
		}
	})
	return gridToTable(grid)
}
