package lease_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/coordination"
	"github.com/velodb/vela/internal/coordination/lease"
)

func TestAcquire_GrantsOnFreshName(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	grant, ok := p.Acquire("idx", 1000, "writer-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), grant.Epoch)
	assert.Equal(t, int64(1000), grant.Until)
}

func TestAcquire_FailsWhileHeldAndNotExpired(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	_, ok := p.Acquire("idx", 1000, "writer-1")
	require.True(t, ok)

	_, ok = p.Acquire("idx", 1000, "writer-2")
	assert.False(t, ok)
}

func TestAcquire_SucceedsAfterExpiryWithHigherEpoch(t *testing.T) {
	now := int64(0)
	clock := fakeClock{get: func() int64 { return now }}
	p := lease.New(clock)

	first, ok := p.Acquire("idx", 100, "writer-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.Epoch)

	now = 200 // past the TTL

	second, ok := p.Acquire("idx", 100, "writer-2")
	require.True(t, ok)
	assert.Equal(t, uint64(2), second.Epoch)
	assert.True(t, second.Epoch > first.Epoch)
}

func TestRenew_ExtendsStillOwnedLease(t *testing.T) {
	now := int64(0)
	clock := fakeClock{get: func() int64 { return now }}
	p := lease.New(clock)

	grant, ok := p.Acquire("idx", 100, "writer-1")
	require.True(t, ok)

	now = 50

	renewed, ok := p.Renew("idx", grant.Epoch, 100)
	require.True(t, ok)
	assert.Equal(t, grant.Epoch, renewed.Epoch)
	assert.Equal(t, int64(150), renewed.Until)
}

func TestRenew_FailsOnEpochMismatch(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	grant, ok := p.Acquire("idx", 100, "writer-1")
	require.True(t, ok)

	_, ok = p.Renew("idx", grant.Epoch+1, 100)
	assert.False(t, ok)
}

func TestRenew_FailsOnUnknownName(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	_, ok := p.Renew("missing", 1, 100)
	assert.False(t, ok)
}

func TestRelease_ClearsOnMatchingEpoch(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	grant, ok := p.Acquire("idx", 100, "writer-1")
	require.True(t, ok)

	assert.True(t, p.Release("idx", grant.Epoch))

	// released lease is immediately reacquirable, with a fresh epoch.
	next, ok := p.Acquire("idx", 100, "writer-2")
	require.True(t, ok)
	assert.True(t, next.Epoch > grant.Epoch)
}

func TestRelease_FailsOnEpochMismatch(t *testing.T) {
	p := lease.New(coordination.FixedClock{At: 0})

	grant, ok := p.Acquire("idx", 100, "writer-1")
	require.True(t, ok)

	assert.False(t, p.Release("idx", grant.Epoch+1))
}

type fakeClock struct {
	get func() int64
}

func (f fakeClock) Now() int64 { return f.get() }
