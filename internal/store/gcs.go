package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS is a Store backed by a Google Cloud Storage bucket. Files live directly
// under an optional prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS connects to the bucket using Application Default Credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return NewGCSWithClient(client, bucket, prefix), nil
}

// NewGCSWithClient wraps an existing storage client.
func NewGCSWithClient(client *storage.Client, bucket, prefix string) *GCS {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) object(name string) (*storage.ObjectHandle, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return g.client.Bucket(g.bucket).Object(g.prefix + name), nil
}

// URI returns the gs:// location of a named file.
func (g *GCS) URI(name string) string {
	return fmt.Sprintf("gs://%s/%s%s", g.bucket, g.prefix, name)
}

func (g *GCS) Put(ctx context.Context, name string, data []byte) error {
	obj, err := g.object(name)
	if err != nil {
		return fmt.Errorf("GCS.Put: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json; charset=utf-8"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCS.Put: write %s: %w", g.URI(name), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCS.Put: finalize upload %s: %w", g.URI(name), err)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := g.object(name)
	if err != nil {
		return nil, err
	}

	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("GCS.Open: open reader %s: %w", g.URI(name), err)
	}
	return r, nil
}

func (g *GCS) List(ctx context.Context) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix:    g.prefix,
		Delimiter: "/",
	})

	names := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("GCS.List: iterate %s: %w", g.bucket, err)
		}
		// Delimiter results are synthetic prefixes with an empty Name.
		if attrs.Name == "" {
			continue
		}
		name := path.Base(strings.TrimPrefix(attrs.Name, g.prefix))
		if HasExtension(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*GCS)(nil)
