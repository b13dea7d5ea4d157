package vela_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela"
	"github.com/velodb/vela/internal/blobstore/memblob"
	"github.com/velodb/vela/internal/format/legacy"
)

const (
	assertEventuallyWait = 500 * time.Millisecond
	assertEventuallyTick = 10 * time.Millisecond
)

func newMemStore(t *testing.T) vela.BlobStore {
	t.Helper()

	return memblob.New()
}

func newOpts(dim int) vela.Options {
	return vela.Options{
		Dim:      dim,
		Metric:   vela.MetricCosine,
		Strategy: vela.KindBruteForce,
	}
}

func TestClient_UpsertGetRemove(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(3))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0, 0}, []byte(`{"tag":"a"}`), false))
	require.NoError(t, c.Upsert(ctx, 2, []float32{0, 1, 0}, nil, false))

	vec, meta, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.JSONEq(t, `{"tag":"a"}`, string(meta))

	assert.Equal(t, 2, c.Count())

	removed, err := c.Remove(ctx, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 1, c.Count())

	removed, err = c.Remove(ctx, 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestClient_Upsert_RejectsDuplicateWithoutFlag(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))

	err = c.Upsert(ctx, 1, []float32{0, 1}, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrDuplicate)
}

func TestClient_Upsert_RejectsDimMismatch(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(3))
	require.NoError(t, err)

	err = c.Upsert(ctx, 1, []float32{1, 0}, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrDimMismatch)
}

func TestClient_SetMeta(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))

	ok, err := c.SetMeta(ctx, 1, []byte(`{"tag":"x"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	_, meta, _ := c.Get(1)
	assert.JSONEq(t, `{"tag":"x"}`, string(meta))

	ok, err = c.SetMeta(ctx, 99, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_Search(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(3))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0, 0}, nil, false))
	require.NoError(t, c.Upsert(ctx, 2, []float32{0, 1, 0}, nil, false))
	require.NoError(t, c.Upsert(ctx, 3, []float32{0.9, 0.1, 0}, nil, false))

	results, err := c.Search([]float32{1, 0, 0}, 2, nil, vela.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(1), results[0].ID)
}

func TestClient_Search_WithMetaFilter(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, []byte(`{"kind":"a"}`), false))
	require.NoError(t, c.Upsert(ctx, 2, []float32{0.9, 0.1}, []byte(`{"kind":"b"}`), false))

	expr := &vela.Expr{Leaf: &vela.Leaf{Key: "kind", Scope: vela.ScopeMeta, Match: []any{"b"}}}

	results, err := c.Search([]float32{1, 0}, 5, expr, vela.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(2), results[0].ID)
}

func TestClient_BulkUpsert_BestEffort(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))

	items := []vela.UpsertItem{
		{ID: 1, Vector: []float32{0, 1}, Upsert: false}, // duplicate, rejected
		{ID: 2, Vector: []float32{0, 1}, Upsert: false},
	}

	failures, err := c.BulkUpsert(ctx, items, vela.BestEffort)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, uint32(1), failures[0].ID)

	assert.Equal(t, 2, c.Count())
}

func TestClient_BulkUpsert_AllOrNothing(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))

	items := []vela.UpsertItem{
		{ID: 2, Vector: []float32{0, 1}, Upsert: false},
		{ID: 1, Vector: []float32{0, 1}, Upsert: false}, // duplicate, aborts
	}

	_, err = c.BulkUpsert(ctx, items, vela.AllOrNothing)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrDuplicate)
}

func TestClient_SaveThenOpen_Roundtrip(t *testing.T) {
	ctx := context.Background()

	store := newMemStore(t)
	opts := newOpts(3)
	opts.Base = "vela/db"
	opts.IndexStore = store

	c, err := vela.New(opts)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0, 0}, []byte(`{"tag":"a"}`), false))
	require.NoError(t, c.Upsert(ctx, 2, []float32{0, 1, 0}, nil, false))

	_, err = c.Save(ctx)
	require.NoError(t, err)

	reopened, err := vela.Open(ctx, opts)
	require.NoError(t, err)

	vec, meta, ok := reopened.Get(1)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.JSONEq(t, `{"tag":"a"}`, string(meta))
	assert.Equal(t, 2, reopened.Count())
}

func TestClient_Open_ReplaysWALAfterLastSave(t *testing.T) {
	ctx := context.Background()

	store := newMemStore(t)
	opts := newOpts(2)
	opts.Base = "vela/db"
	opts.IndexStore = store

	c, err := vela.New(opts)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))
	_, err = c.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 2, []float32{0, 1}, []byte(`{"tag":"b"}`), false))

	reopened, err := vela.Open(ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, reopened.Count())

	_, meta, ok := reopened.Get(2)
	require.True(t, ok)
	assert.JSONEq(t, `{"tag":"b"}`, string(meta))
}

func TestClient_Open_NoPersistedStateFallsBackToFresh(t *testing.T) {
	ctx := context.Background()

	opts := newOpts(2)
	opts.Base = "vela/fresh"

	c, err := vela.Open(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count())
}

func TestClient_SaveLegacyThenOpenLegacy_Roundtrip(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, []byte(`{"tag":"a"}`), false))
	require.NoError(t, c.Upsert(ctx, 2, []float32{0, 1}, nil, false))

	store := newMemStore(t)
	require.NoError(t, c.SaveLegacy(ctx, store, "snapshot.vlit", legacy.Version2))

	reopened, err := vela.OpenLegacy(ctx, store, "snapshot.vlit", vela.Options{Strategy: vela.KindBruteForce})
	require.NoError(t, err)

	assert.Equal(t, 2, reopened.Count())

	vec, meta, ok := reopened.Get(1)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.JSONEq(t, `{"tag":"a"}`, string(meta))
}

func TestClient_SaveLegacy_RejectsDotMetric(t *testing.T) {
	ctx := context.Background()

	opts := newOpts(2)
	opts.Metric = vela.MetricDot

	c, err := vela.New(opts)
	require.NoError(t, err)

	store := newMemStore(t)
	err = c.SaveLegacy(ctx, store, "snapshot.vlit", legacy.Version1)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrUnknownCode)
}

func TestClient_Close_RejectsFurtherWrites(t *testing.T) {
	ctx := context.Background()

	c, err := vela.New(newOpts(2))
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx)) // idempotent

	err = c.Upsert(ctx, 1, []float32{1, 0}, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrClosed)
}

func TestLeaseProvider_AcquireRenewRelease(t *testing.T) {
	clock := &vela.FixedClock{At: 1000}
	provider := vela.NewLeaseProvider(clock)

	grant, ok := provider.Acquire("maintenance", 500, "worker-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), grant.Epoch)

	_, ok = provider.Acquire("maintenance", 500, "worker-2")
	assert.False(t, ok, "lease still held, second acquire must fail")

	_, ok = provider.Renew("maintenance", grant.Epoch, 500)
	require.True(t, ok)

	require.True(t, provider.Release("maintenance", grant.Epoch))

	_, ok = provider.Acquire("maintenance", 500, "worker-2")
	assert.True(t, ok, "released lease must be reacquirable")
}

func TestClient_Autosave_FlushesOnOpCount(t *testing.T) {
	ctx := context.Background()

	store := newMemStore(t)
	opts := newOpts(2)
	opts.Base = "vela/autosave"
	opts.IndexStore = store
	opts.Autosave.Ops = 1

	c, err := vela.New(opts)
	require.NoError(t, err)
	defer c.Close(ctx)

	require.NoError(t, c.Upsert(ctx, 1, []float32{1, 0}, nil, false))

	require.Eventually(t, func() bool {
		_, err := store.Read(ctx, "vela/autosave.manifest.json")
		return err == nil
	}, assertEventuallyWait, assertEventuallyTick)
}
