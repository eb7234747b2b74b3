package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/google/uuid"
)

// Extension is the suffix of every persisted table file.
const Extension = ".json"

// ErrNotFound is returned when a named file is absent from the store.
var ErrNotFound = errors.New("store: file not found")

// Store holds persisted table files under flat names.
type Store interface {
	// Put writes data under name, replacing any existing file.
	Put(ctx context.Context, name string, data []byte) error

	// Open streams the named file. The caller must close the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the names of all .json files, sorted.
	List(ctx context.Context) ([]string, error)
}

// ValidName reports whether name is a plain file name that may address a file
// in a store. Names with path separators or NUL, and the names "." and "..",
// are rejected so they can never escape the store root. Dots inside a name,
// as in "q1..v2.json", are fine.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// HasExtension reports whether name ends in the table file suffix.
func HasExtension(name string) bool {
	return strings.HasSuffix(name, Extension)
}

// BaseName derives a file-name base from an uploaded document name: the
// directory part and extension are dropped.
func BaseName(original string) string {
	original = strings.ReplaceAll(original, `\`, "/")
	base := filepath.Base(original)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// NewFileName builds a collision-free table file name:
// <base>_<YYYY-MM-DD_HH-MM-SS>_<8 hex chars>.json.
func NewFileName(base string, now time.Time) string {
	base = sanitizeBase(base)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s%s", base, now.Format("2006-01-02_15-04-05"), suffix, Extension)
}

func sanitizeBase(base string) string {
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, base)
	base = strings.ReplaceAll(base, "..", "_")
	if strings.TrimSpace(base) == "" {
		return "table"
	}
	return base
}

// Get reads the whole named file.
func Get(ctx context.Context, s Store, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Get: read %s: %w", name, err)
	}
	return data, nil
}

// SaveTable encodes t and stores it under a freshly generated name derived
// from base. It returns the name used.
func SaveTable(ctx context.Context, s Store, base string, now time.Time, t table.Table) (string, error) {
	var buf bytes.Buffer
	if err := table.Encode(&buf, t); err != nil {
		return "", fmt.Errorf("SaveTable: encode: %w", err)
	}

	name := NewFileName(base, now)
	if err := s.Put(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("SaveTable: put %s: %w", name, err)
	}
	return name, nil
}

// LoadTable reads and decodes the named table file. Undecodable content is
// reported as table.ErrMalformed.
func LoadTable(ctx context.Context, s Store, name string) (table.Table, error) {
	data, err := Get(ctx, s, name)
	if err != nil {
		return nil, err
	}
	t, err := table.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("LoadTable: %s: %w", name, err)
	}
	return t, nil
}
