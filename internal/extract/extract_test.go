package extract

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"google.golang.org/genai"
)

func marshal(t *testing.T, tbl table.Table) string {
	t.Helper()
	out, err := json.Marshal(tbl)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return string(out)
}

func seqOf(frags []string, err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range frags {
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func TestCollect(t *testing.T) {
	got, err := Collect(seqOf([]string{"[{\"a\":", "1}", "]"}, nil))
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got != `[{"a":1}]` {
		t.Errorf("Collect = %q", got)
	}
}

func TestCollect_MidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	got, err := Collect(seqOf([]string{"[{", "\"a\""}, boom))
	if !errors.Is(err, boom) {
		t.Fatalf("Collect error = %v, want %v", err, boom)
	}
	if got != `[{"a"` {
		t.Errorf("accumulated = %q, want the fragments before the error", got)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"bare fence", "```\n[]\n```", `[]`},
		{"upper case tag", "```JSON\n[1]\n```", `[1]`},
		{"no closing fence", "```json\n[1]", `[1]`},
		{"surrounding space", "  \n```json [1] ```  ", `[1]`},
		{"unfenced", "  [1]  ", `[1]`},
		{"inner backticks kept", "[\"`x`\"]", "[\"`x`\"]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.input); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAIOutput(t *testing.T) {
	tbl, err := ParseAIOutput("```json\n[{\"\":\"Kas\",\"2022\":\"Rp 5\"}]\n```")
	if err != nil {
		t.Fatalf("ParseAIOutput failed: %v", err)
	}
	if got := marshal(t, tbl); got != `[{"":"Kas","2022":"Rp 5"}]` {
		t.Errorf("ParseAIOutput = %s", got)
	}
}

func TestParseAIOutput_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"prose", "Sorry, I cannot read this table.", ErrNotJSONArray},
		{"object", `{"Akun":"Kas"}`, ErrNotJSONArray},
		{"empty", "", ErrNotJSONArray},
		{"truncated", `[{"Akun":"Kas"`, ErrInvalidJSON},
		{"trailing junk", `[1] and more`, ErrInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAIOutput(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseAIOutput(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestLayoutGrid(t *testing.T) {
	lines := [][]fragment{
		{{X: 200, S: "LAPORAN POSISI KEUANGAN"}},
		{{X: 300, S: "2023"}, {X: 400, S: "2022"}},
		{{X: 50, S: "Kas dan"}, {X: 95, S: "setara kas"}, {X: 310, S: "1.000"}, {X: 405, S: "900"}},
		{{X: 50, S: " "}},
		{{X: 405, S: "(50)"}, {X: 50, S: "Aset lain"}},
		{{X: 50, S: "Total aset"}, {X: 298, S: "5.000"}},
	}

	grid := layoutGrid(lines)
	want := [][]string{
		{"", "2023", "2022"},
		{"Kas dan setara kas", "1.000", "900"},
		{"Aset lain", "", "(50)"},
		{"Total aset", "5.000", ""},
	}
	if len(grid) != len(want) {
		t.Fatalf("grid has %d lines, want %d: %v", len(grid), len(want), grid)
	}
	for i := range want {
		if strings.Join(grid[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("line %d = %q, want %q", i, grid[i], want[i])
		}
	}
}

func TestLayoutGrid_LabelledFirstColumn(t *testing.T) {
	lines := [][]fragment{
		{{X: 50, S: "Akun"}, {X: 300, S: "2023"}},
		{{X: 52, S: "Kas"}, {X: 305, S: "10"}},
	}

	grid := layoutGrid(lines)
	if strings.Join(grid[0], "|") != "Akun|2023" {
		t.Errorf("header = %q", grid[0])
	}
	if strings.Join(grid[1], "|") != "Kas|10" {
		t.Errorf("row = %q", grid[1])
	}
}

func TestLayoutGrid_NoHeader(t *testing.T) {
	lines := [][]fragment{
		{{X: 10, S: "Only a title"}},
		{{X: 10, S: "and a paragraph"}},
	}
	if grid := layoutGrid(lines); grid != nil {
		t.Errorf("layoutGrid = %v, want nil", grid)
	}

	if _, err := gridToTable(nil); !errors.Is(err, ErrNoTable) {
		t.Errorf("gridToTable(nil) error = %v, want ErrNoTable", err)
	}
}

func writeDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "laporan.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func tc(texts ...string) string {
	var b strings.Builder
	b.WriteString("<w:tc>")
	for _, s := range texts {
		b.WriteString("<w:p><w:r><w:t>" + s + "</w:t></w:r></w:p>")
	}
	b.WriteString("</w:tc>")
	return b.String()
}

func TestDOCX_Extract(t *testing.T) {
	body := `<w:p><w:r><w:t>Laporan</w:t></w:r></w:p>` +
		`<w:tbl>` +
		`<w:tr>` + tc("") + tc(" 2023 ") + tc("2022") + `</w:tr>` +
		`<w:tr>` + tc("Simpanan Pokok") + tc("Rp 1.000") + tc("  ") + `</w:tr>` +
		`<w:tr>` + tc("Catatan", "lanjutan") + tc("5") + tc("6") + tc("extra") + `</w:tr>` +
		`</w:tbl>` +
		`<w:tbl><w:tr>` + tc("second table") + `</w:tr></w:tbl>`
	path := writeDOCX(t, body)

	tbl, err := DOCX{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := `[{"":"Simpanan Pokok","2023":"Rp 1.000","2022":null},` +
		`{"":"Catatan\nlanjutan","2023":"5","2022":"6","col_4":"extra"}]`
	if got := marshal(t, tbl); got != want {
		t.Errorf("Extract =\n%s\nwant\n%s", got, want)
	}
}

func TestDOCX_MergedCells(t *testing.T) {
	span := `<w:tc><w:tcPr><w:gridSpan w:val="2"/></w:tcPr><w:p><w:r><w:t>Aset</w:t></w:r></w:p></w:tc>`
	restart := `<w:tc><w:tcPr><w:vMerge w:val="restart"/></w:tcPr><w:p><w:r><w:t>Kas</w:t></w:r></w:p></w:tc>`
	cont := `<w:tc><w:tcPr><w:vMerge/></w:tcPr><w:p/></w:tc>`
	body := `<w:tbl>` +
		`<w:tr>` + tc("") + tc("2023") + tc("2022") + `</w:tr>` +
		`<w:tr>` + tc("Judul") + span + `</w:tr>` +
		`<w:tr>` + restart + tc("1") + tc("2") + `</w:tr>` +
		`<w:tr>` + cont + tc("3") + tc("4") + `</w:tr>` +
		`</w:tbl>`
	path := writeDOCX(t, body)

	tbl, err := DOCX{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := `[{"":"Judul","2023":"Aset","2022":"Aset"},` +
		`{"":"Kas","2023":"1","2022":"2"},` +
		`{"":"Kas","2023":"3","2022":"4"}]`
	if got := marshal(t, tbl); got != want {
		t.Errorf("Extract =\n%s\nwant\n%s", got, want)
	}
}

func TestRawGridToTable_KeepsWhitespace(t *testing.T) {
	tbl, err := rawGridToTable([][]string{{"", " 2023 "}, {"Kas ", ""}})
	if err != nil {
		t.Fatalf("rawGridToTable: %v", err)
	}
	if got, want := marshal(t, tbl), `[{"":"Kas "," 2023 ":null}]`; got != want {
		t.Errorf("rawGridToTable = %s, want %s", got, want)
	}
}

func TestDOCX_NoTable(t *testing.T) {
	path := writeDOCX(t, `<w:p><w:r><w:t>no tables here</w:t></w:r></w:p>`)

	_, err := DOCX{}.Extract(context.Background(), path)
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("Extract error = %v, want ErrNoTable", err)
	}
}

func TestDOCX_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := DOCX{}.Extract(context.Background(), path)
	if err == nil || errors.Is(err, ErrNoTable) {
		t.Errorf("Extract error = %v, want an open failure", err)
	}
}

func mkXLSX(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	path := filepath.Join(t.TempDir(), "neraca.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs failed: %v", err)
	}
	return path
}

func TestXLSX_Extract(t *testing.T) {
	path := mkXLSX(t, [][]any{
		{nil, nil, nil},
		{"", "2023", "2022"},
		{"Kas dan setara kas", "1.500", "1.200"},
		{"Total aset", "9.000", nil},
	})

	tbl, err := XLSX{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := `[{"":"Kas dan setara kas","2023":"1.500","2022":"1.200"},{"":"Total aset","2023":"9.000"}]`
	if got := marshal(t, tbl); got != want {
		t.Errorf("Extract =\n%s\nwant\n%s", got, want)
	}
}

func TestXLSX_EmptySheet(t *testing.T) {
	path := mkXLSX(t, nil)
	_, err := XLSX{}.Extract(context.Background(), path)
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("Extract error = %v, want ErrNoTable", err)
	}
}

func TestHTML_Extract(t *testing.T) {
	page := `<html><body><h1>Neraca</h1>
<table>
  <tr><th></th><th>2023</th></tr>
  <tr><td>Total   aset</td><td>Rp 7.000</td></tr>
  <tr><td>Catatan <table><tr><td>nested</td></tr></table></td><td></td></tr>
</table>
<table><tr><td>second</td></tr></table>
</body></html>`
	path := filepath.Join(t.TempDir(), "neraca.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := HTML{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := `[{"":"Total aset","2023":"Rp 7.000"},{"":"Catatan nested","2023":null}]`
	if got := marshal(t, tbl); got != want {
		t.Errorf("Extract =\n%s\nwant\n%s", got, want)
	}
}

func TestHTML_NoTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.html")
	if err := os.WriteFile(path, []byte("<p>nothing</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (HTML{}).Extract(context.Background(), path); !errors.Is(err, ErrNoTable) {
		t.Errorf("Extract error = %v, want ErrNoTable", err)
	}
}

// fakeStreamer replays canned model responses.
type fakeStreamer struct {
	chunks []string
	err    error

	gotModel    string
	gotContents []*genai.Content
}

func (f *fakeStreamer) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.gotModel = model
	f.gotContents = contents
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range f.chunks {
			resp := &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: &genai.Content{Parts: []*genai.Part{{Text: c}}}},
				},
			}
			if !yield(resp, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVision_Extract(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"```json\n[{\"\": \"Kas\",", " \"2023\": \"Rp 1\"}]", "\n```"}}
	v := NewVisionWithStreamer(fs, "", zerolog.Nop())

	tbl, err := v.Extract(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got := marshal(t, tbl); got != `[{"":"Kas","2023":"Rp 1"}]` {
		t.Errorf("Extract = %s", got)
	}

	if fs.gotModel != DefaultVisionModel {
		t.Errorf("model = %q, want %q", fs.gotModel, DefaultVisionModel)
	}
	parts := fs.gotContents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
		t.Errorf("request parts not as expected: %+v", parts)
	}
}

func TestVision_StreamFailure(t *testing.T) {
	boom := errors.New("stream broken")
	v := NewVisionWithStreamer(&fakeStreamer{chunks: []string{"[{"}, err: boom}, "m", zerolog.Nop())

	_, err := v.Extract(context.Background(), writeImage(t))
	if !errors.Is(err, boom) {
		t.Errorf("Extract error = %v, want %v", err, boom)
	}
}

func TestVision_NotAnArray(t *testing.T) {
	v := NewVisionWithStreamer(&fakeStreamer{chunks: []string{"I see a table with"}}, "m", zerolog.Nop())

	_, err := v.Extract(context.Background(), writeImage(t))
	if !errors.Is(err, ErrNotJSONArray) {
		t.Errorf("Extract error = %v, want ErrNotJSONArray", err)
	}
}

func TestVision_StopsPullingWhenConsumerStops(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"a", "b", "c"}}
	v := NewVisionWithStreamer(fs, "m", zerolog.Nop())

	var got []string
	for frag, err := range v.Stream(context.Background(), nil, "image/jpeg") {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, frag)
		if len(got) == 2 {
			break
		}
	}
	if strings.Join(got, "") != "ab" {
		t.Errorf("fragments = %v, want [a b]", got)
	}
}
