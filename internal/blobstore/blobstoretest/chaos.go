// Package blobstoretest adapts the teacher's fault-injection fixture
// (pkg/fs/chaos.go) to blobstore.Store: a thin wrapper that randomly fails
// or truncates operations so WAL/indexing crash-recovery paths can be
// exercised under simulated storage faults.
package blobstoretest

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"

	"github.com/velodb/vela/internal/blobstore"
)

// ErrInjected marks an error as deliberately injected by Chaos, so tests
// can distinguish it from a real backing-store failure.
var ErrInjected = errors.New("blobstoretest: injected fault")

// ChaosConfig controls fault injection probabilities, each in [0, 1].
// The zero value disables all injection.
type ChaosConfig struct {
	ReadFailRate        float64
	WriteFailRate       float64
	AppendFailRate      float64
	AtomicWriteFailRate float64
	PartialWriteRate    float64 // AtomicWrite/Write durably persist a truncated prefix instead
}

// ChaosStats counts injected faults, for test assertions.
type ChaosStats struct {
	ReadFails        int64
	WriteFails       int64
	AppendFails      int64
	AtomicWriteFails int64
	PartialWrites    int64
}

// Chaos wraps a blobstore.Store and injects faults according to config.
type Chaos struct {
	inner  blobstore.Store
	rng    *rand.Rand
	config ChaosConfig

	readFails        atomic.Int64
	writeFails       atomic.Int64
	appendFails      atomic.Int64
	atomicWriteFails atomic.Int64
	partialWrites    atomic.Int64
}

// New wraps inner with chaos injection seeded for reproducibility.
func New(inner blobstore.Store, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		inner:  inner,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:        c.readFails.Load(),
		WriteFails:       c.writeFails.Load(),
		AppendFails:      c.appendFails.Load(),
		AtomicWriteFails: c.atomicWriteFails.Load(),
		PartialWrites:    c.partialWrites.Load(),
	}
}

func (c *Chaos) should(rate float64) bool { return c.rng.Float64() < rate }

func (c *Chaos) Read(ctx context.Context, path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, ErrInjected
	}

	return c.inner.Read(ctx, path)
}

func (c *Chaos) Write(ctx context.Context, path string, data []byte) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return ErrInjected
	}

	if c.should(c.config.PartialWriteRate) && len(data) > 1 {
		c.partialWrites.Add(1)
		cutoff := c.rng.Intn(len(data)-1) + 1

		_ = c.inner.Write(ctx, path, data[:cutoff])

		return ErrInjected
	}

	return c.inner.Write(ctx, path, data)
}

func (c *Chaos) Append(ctx context.Context, path string, data []byte) error {
	if c.should(c.config.AppendFailRate) {
		c.appendFails.Add(1)

		return ErrInjected
	}

	if c.should(c.config.PartialWriteRate) && len(data) > 1 {
		c.partialWrites.Add(1)
		cutoff := c.rng.Intn(len(data)-1) + 1

		_ = c.inner.Append(ctx, path, data[:cutoff])

		return ErrInjected
	}

	return c.inner.Append(ctx, path, data)
}

func (c *Chaos) AtomicWrite(ctx context.Context, path string, data []byte) error {
	if c.should(c.config.AtomicWriteFailRate) {
		c.atomicWriteFails.Add(1)

		// An atomic write that fails mid-flight must leave the prior
		// contents untouched — that's the whole point of temp-then-rename.
		return ErrInjected
	}

	return c.inner.AtomicWrite(ctx, path, data)
}

func (c *Chaos) Delete(ctx context.Context, path string) error {
	return c.inner.Delete(ctx, path)
}
