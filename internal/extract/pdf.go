package extract

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/ledongthuc/pdf"
)

// leadingColumnGap is how far left of the first header cell text must start,
// in points, to be read as an unlabelled leading column.
const leadingColumnGap = 20.0

// PDF extracts the table printed on the first page of a PDF document.
//
// Text is read line by line with its horizontal position. The first line with
// at least two text runs is the header; its runs anchor the columns, and every
// later run lands in the column whose anchor is nearest. Text starting clearly
// left of the first header cell forms a leading column labelled "", which is
// where account names sit in most statements.
type PDF struct{}

// fragment is one positioned text run on a line.
type fragment struct {
	X float64
	S string
}

func (PDF) Extract(ctx context.Context, path string) (table.Table, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("PDF.Extract: open %s: %w", path, err)
	}
	defer f.Close()

	if r.NumPage() < 1 {
		return nil, ErrNoTable
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return nil, ErrNoTable
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, fmt.Errorf("PDF.Extract: read text: %w", err)
	}

	lines := make([][]fragment, 0, len(rows))
	for _, row := range rows {
		line := make([]fragment, 0, len(row.Content))
		for _, text := range row.Content {
			line = append(line, fragment{X: text.X, S: text.S})
		}
		lines = append(lines, line)
	}

	grid := layoutGrid(lines)
	return rawGridToTable(grid)
}

// layoutGrid arranges positioned text lines, top to bottom, into a grid whose
// first line is the header.
func layoutGrid(lines [][]fragment) [][]string {
	cleaned := make([][]fragment, 0, len(lines))
	for _, line := range lines {
		if l := cleanLine(line); len(l) > 0 {
			cleaned = append(cleaned, l)
		}
	}

	headerIdx := -1
	for i, line := range cleaned {
		if len(line) >= 2 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil
	}
	header := cleaned[headerIdx]
	body := cleaned[headerIdx+1:]

	anchors := make([]float64, 0, len(header)+1)
	labels := make([]string, 0, len(header)+1)

	minX := math.Inf(1)
	for _, line := range body {
		minX = math.Min(minX, line[0].X)
	}
	if minX < header[0].X-leadingColumnGap {
		anchors = append(anchors, minX)
		labels = append(labels, "")
	}
	for _, frag := range header {
		anchors = append(anchors, frag.X)
		labels = append(labels, frag.S)
	}

	grid := [][]string{labels}
	for _, line := range body {
		cells := make([][]string, len(anchors))
		for _, frag := range line {
			col := nearestAnchor(anchors, frag.X)
			cells[col] = append(cells[col], frag.S)
		}
		out := make([]string, len(anchors))
		for i, parts := range cells {
			out[i] = strings.Join(parts, " ")
		}
		grid = append(grid, out)
	}
	return grid
}

// cleanLine drops blank runs and orders the rest left to right.
func cleanLine(line []fragment) []fragment {
	out := make([]fragment, 0, len(line))
	for _, frag := range line {
		s := strings.TrimSpace(frag.S)
		if s == "" {
			continue
		}
		out = append(out, fragment{X: frag.X, S: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].X < out[j].X })
	return out
}

func nearestAnchor(anchors []float64, x float64) int {
	best := 0
	for i := 1; i < len(anchors); i++ {
		if math.Abs(anchors[i]-x) < math.Abs(anchors[best]-x) {
			best = i
		}
	}
	return best
}
