// Package blobstore defines the abstract storage capability the core
// consumes (spec §6): read/write/append/atomicWrite/delete over named
// paths. Concrete adapters (filesystem, memory) live in subpackages;
// the core never depends on a concrete one directly.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when path does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// ErrDeleteUnsupported is returned by Delete on stores that don't offer it
// (spec §6: delete is "optional; rebalance cleanup requires it").
var ErrDeleteUnsupported = errors.New("blobstore: delete not supported")

// Store is the injected blob-store capability set.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Append(ctx context.Context, path string, data []byte) error
	AtomicWrite(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}
