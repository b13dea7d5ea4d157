// Package fsblob is a filesystem-backed blobstore.Store. AtomicWrite uses
// natefinch/atomic for temp-file-then-rename durability, the same pattern
// the teacher hand-rolled in pkg/fs/atomic_write.go but via the ecosystem
// library instead of reimplementing fsync/rename/dir-sync bookkeeping.
package fsblob

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	natomic "github.com/natefinch/atomic"

	"github.com/velodb/vela/internal/blobstore"
)

// Store roots every path under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir is created lazily on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) resolve(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path))
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(s.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fsblob: read %q: %w", path, blobstore.ErrNotFound)
		}

		return nil, fmt.Errorf("fsblob: read %q: %w", path, err)
	}

	return b, nil
}

func (s *Store) Write(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fsblob: mkdir for %q: %w", path, err)
	}

	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("fsblob: write %q: %w", path, err)
	}

	return nil
}

func (s *Store) Append(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fsblob: mkdir for %q: %w", path, err)
	}

	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fsblob: open %q for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("fsblob: append %q: %w", path, err)
	}

	return nil
}

func (s *Store) AtomicWrite(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fsblob: mkdir for %q: %w", path, err)
	}

	if err := natomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("fsblob: atomic write %q: %w", path, err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsblob: delete %q: %w", path, err)
	}

	return nil
}
