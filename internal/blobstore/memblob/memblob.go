// Package memblob is an in-memory blobstore.Store fixture, used by tests
// and by callers that want a throwaway store (spec §6: "concrete blob-store
// adapters ... are glue", not core, but a reference implementation earns
// its keep in test harnesses).
package memblob

import (
	"context"
	"sync"

	"github.com/velodb/vela/internal/blobstore"
)

// Store is a mutex-guarded map[path][]byte.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.data[path]
	if !ok {
		return nil, blobstore.ErrNotFound
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out, nil
}

func (s *Store) Write(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[path] = cp

	return nil
}

func (s *Store) Append(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[path] = append(s.data[path], data...)

	return nil
}

func (s *Store) AtomicWrite(ctx context.Context, path string, data []byte) error {
	return s.Write(ctx, path, data)
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, path)

	return nil
}
