package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/report-extractor/internal/table"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(filepath.Join(t.TempDir(), "output"))
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	return d
}

func TestNewFileName(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	pattern := regexp.MustCompile(`^laporan_2024-03-09_14-05-07_[0-9a-f]{8}\.json$`)

	a := NewFileName("laporan", now)
	b := NewFileName("laporan", now)
	if !pattern.MatchString(a) {
		t.Errorf("NewFileName = %q, does not match %s", a, pattern)
	}
	if a == b {
		t.Errorf("two names generated at the same instant collide: %s", a)
	}
}

func TestNewFileName_SanitizesBase(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		base   string
		prefix string
	}{
		{"../../etc/passwd", "____etc_passwd_"},
		{`a\b`, "a_b_"},
		{"", "table_"},
		{"   ", "table_"},
	}
	for _, tt := range tests {
		name := NewFileName(tt.base, now)
		if !strings.HasPrefix(name, tt.prefix) {
			t.Errorf("NewFileName(%q) = %q, want prefix %q", tt.base, name, tt.prefix)
		}
		if !ValidName(name) {
			t.Errorf("NewFileName(%q) = %q is not a valid name", tt.base, name)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"Laporan Keuangan 2023.pdf": "Laporan Keuangan 2023",
		"dir/sub/report.docx":       "report",
		`C:\Users\x\neraca.xlsx`:    "neraca",
		"noext":                     "noext",
		"archive.tar.gz":            "archive.tar",
		"":                          "",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"a.json":         true,
		"laporan_1.json": true,
		"":               false,
		".":              false,
		"..":             false,
		"../a.json":      false,
		"sub/a.json":     false,
		`sub\a.json`:     false,
		"a..json":        true,
		"q1..v2.json":    true,
		"...":            true,
		"a\x00.json":     false,
	}
	for name, want := range tests {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDir_PutOpenList(t *testing.T) {
	ctx := context.Background()
	d := newTestDir(t)

	if err := d.Put(ctx, "b.json", []byte(`[]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := d.Put(ctx, "a.json", []byte(`[{"Akun":"Kas"}]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(d.Root(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(d.Root(), "dir.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if strings.Join(names, ",") != "a.json,b.json" {
		t.Errorf("List = %v, want [a.json b.json]", names)
	}

	data, err := Get(ctx, d, "a.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `[{"Akun":"Kas"}]` {
		t.Errorf("Get = %s", data)
	}
}

func TestDir_NotFound(t *testing.T) {
	ctx := context.Background()
	d := newTestDir(t)

	for _, name := range []string{"missing.json", "../secret.json", "dir.json"} {
		if name == "dir.json" {
			if err := os.Mkdir(filepath.Join(d.Root(), name), 0o755); err != nil {
				t.Fatal(err)
			}
		}
		_, err := d.Open(ctx, name)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestDir_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	d := newTestDir(t)

	if err := d.Put(ctx, "a.json", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, "a.json", []byte("2")); err != nil {
		t.Fatal(err)
	}

	rc, err := d.Open(ctx, "a.json")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "2" {
		t.Errorf("content = %s, want 2", data)
	}

	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1", len(entries))
	}
}

func TestSaveAndLoadTable(t *testing.T) {
	ctx := context.Background()
	d := newTestDir(t)

	row := table.NewRow()
	row.Set("Akun", "Simpanan Pokok")
	row.Set("2023", "Rp 10.000")

	name, err := SaveTable(ctx, d, "neraca", time.Now(), table.Table{row})
	if err != nil {
		t.Fatalf("SaveTable failed: %v", err)
	}
	if !strings.HasPrefix(name, "neraca_") || !HasExtension(name) {
		t.Errorf("name = %q", name)
	}

	raw, err := os.ReadFile(filepath.Join(d.Root(), name))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"Akun": "Simpanan Pokok"`) {
		t.Errorf("file content not indented as expected:\n%s", raw)
	}

	loaded, err := LoadTable(ctx, d, name)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if got, want := loaded[0].Keys(), []string{"Akun", "2023"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestLoadTable_Malformed(t *testing.T) {
	ctx := context.Background()
	d := newTestDir(t)

	if err := d.Put(ctx, "bad.json", []byte(`{"not":"an array"}`)); err != nil {
		t.Fatal(err)
	}
	_, err := LoadTable(ctx, d, "bad.json")
	if !errors.Is(err, table.ErrMalformed) {
		t.Errorf("LoadTable error = %v, want table.ErrMalformed", err)
	}

	_, err = LoadTable(ctx, d, "absent.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTable error = %v, want ErrNotFound", err)
	}
}
