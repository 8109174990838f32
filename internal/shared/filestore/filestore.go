// Package filestore reads published objects from a local directory, laid
// out the same way as the shared object store.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no object exists at a path
var ErrNotFound = errors.New("object not found")

// Store is a directory-backed object store
type Store struct {
	root string
}

// New creates a store rooted at dir
func New(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("object store dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("object store dir %s is not a directory", dir)
	}
	return &Store{root: dir}, nil
}

// ReadObject returns the contents of the file at path under the root.
// Paths that escape the root are rejected.
func (s *Store) ReadObject(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := path.Clean("/" + p)
	if clean == "/" || strings.Contains(clean, "\x00") {
		return nil, fmt.Errorf("invalid object path %q", p)
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read object %q: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", p, err)
	}
	return data, nil
}
