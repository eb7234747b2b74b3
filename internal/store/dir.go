package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Dir is a Store backed by a local directory.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a store rooted at it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("NewDir: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory the store writes to.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the local path of a named file.
func (d *Dir) Path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return filepath.Join(d.root, name), nil
}

func (d *Dir) Put(ctx context.Context, name string, data []byte) error {
	path, err := d.Path(name)
	if err != nil {
		return fmt.Errorf("Dir.Put: %w", err)
	}

	tmp, err := os.CreateTemp(d.root, ".put-*")
	if err != nil {
		return fmt.Errorf("Dir.Put: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("Dir.Put: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Dir.Put: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("Dir.Put: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("Dir.Put: rename: %w", err)
	}
	return nil
}

func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("Dir.Open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("Dir.Open: stat: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

func (d *Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Dir.List: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !HasExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*Dir)(nil)
