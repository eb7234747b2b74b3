package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dvloznov/report-extractor/internal/table"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCX extracts the first table of a Word document. Cell text is the text of
// the cell's paragraphs joined by newlines. Merged cells are repeated in every
// grid column they cover: a horizontal merge (w:gridSpan) repeats the cell
// across the row and a vertical merge (w:vMerge) repeats the top cell down.
type DOCX struct{}

func (DOCX) Extract(ctx context.Context, path string) (table.Table, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("DOCX.Extract: open %s: %w", path, err)
	}
	defer zr.Close()

	rc, err := zr.Open("word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("DOCX.Extract: open document part: %w", err)
	}
	defer rc.Close()

	grid, err := readFirstTable(rc)
	if err != nil {
		return nil, fmt.Errorf("DOCX.Extract: parse document part: %w", err)
	}
	return gridToTable(grid)
}

// readFirstTable collects the rows of the first top-level w:tbl. Tables
// nested inside a cell contribute their text to that cell.
func readFirstTable(r io.Reader) ([][]string, error) {
	dec := xml.NewDecoder(r)

	var (
		grid   [][]string
		row    []string
		cell   strings.Builder
		depth  int
		paras  int
		span   int
		merged bool
		inCell bool
		inText bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return grid, nil
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space != wordNamespace {
				continue
			}
			switch el.Name.Local {
			case "tbl":
				depth++
			case "tr":
				if depth == 1 {
					row = []string{}
				}
			case "tc":
				if depth == 1 {
					inCell = true
					paras = 0
					span = 1
					merged = false
					cell.Reset()
				}
			case "gridSpan":
				if inCell && depth == 1 {
					if n, err := strconv.Atoi(wordAttr(el, "val")); err == nil && n > 1 {
						span = n
					}
				}
			case "vMerge":
				if inCell && depth == 1 {
					v := wordAttr(el, "val")
					merged = v == "" || v == "continue"
				}
			case "p":
				if inCell {
					if paras > 0 {
						cell.WriteByte('\n')
					}
					paras++
				}
			case "t":
				inText = inCell
			case "tab":
				if inCell {
					cell.WriteByte('\t')
				}
			}

		case xml.EndElement:
			if el.Name.Space != wordNamespace {
				continue
			}
			switch el.Name.Local {
			case "tbl":
				depth--
				if depth == 0 {
					return grid, nil
				}
			case "tr":
				if depth == 1 {
					grid = append(grid, row)
				}
			case "tc":
				if depth == 1 {
					text := cell.String()
					if merged {
						text = cellAbove(grid, len(row))
					}
					for range span {
						row = append(row, text)
					}
					inCell = false
				}
			case "t":
				inText = false
			}

		case xml.CharData:
			if inText {
				cell.Write(el)
			}
		}
	}
}

func wordAttr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local && (a.Name.Space == wordNamespace || a.Name.Space == "") {
			return a.Value
		}
	}
	return ""
}

// cellAbove returns the text in grid column col of the last row, or "".
func cellAbove(grid [][]string, col int) string {
	if len(grid) == 0 || col >= len(grid[len(grid)-1]) {
		return ""
	}
	return grid[len(grid)-1][col]
}
