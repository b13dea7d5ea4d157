package placement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/blobstore"
	"github.com/velodb/vela/internal/blobstore/memblob"
	"github.com/velodb/vela/internal/format"
	"github.com/velodb/vela/internal/placement"
)

func testConfig() placement.Config {
	return placement.Config{
		Pgs: 8,
		Targets: []placement.Target{
			{Key: "a"}, {Key: "b"}, {Key: "c"},
		},
	}
}

func TestLocate_Deterministic(t *testing.T) {
	cfg := testConfig()

	loc1 := placement.Locate(42, cfg)
	loc2 := placement.Locate(42, cfg)

	assert.Equal(t, loc1, loc2)
	assert.True(t, loc1.PG >= 0 && loc1.PG < cfg.Pgs)
	require.Len(t, loc1.Primaries, 1)
}

func TestLocate_DistributesAcrossTargets(t *testing.T) {
	cfg := testConfig()

	seen := map[string]bool{}
	for id := uint32(0); id < 200; id++ {
		loc := placement.Locate(id, cfg)
		seen[loc.Primaries[0]] = true
	}

	assert.True(t, len(seen) > 1, "expected ids to spread across more than one target")
}

func TestSegmenter_SinglePartWithoutRotation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	seg := placement.NewSegmenter(cfg, "base", false, 0)

	seg.Add(format.DataRow{ID: 1, Vector: []float32{1, 2}})
	seg.Add(format.DataRow{ID: 2, Vector: []float32{3, 4}})

	stores := map[string]blobstore.Store{"a": memblob.New(), "b": memblob.New(), "c": memblob.New()}

	result, err := seg.Flush(ctx, stores)
	require.NoError(t, err)
	assert.Len(t, result.Pointers, 2)
	assert.NotEmpty(t, result.Manifest)
}

func TestSegmenter_RotatesBySize(t *testing.T) {
	ctx := context.Background()
	cfg := placement.Config{Pgs: 1, Targets: []placement.Target{{Key: "only"}}}
	seg := placement.NewSegmenter(cfg, "base", true, 20)

	for id := uint32(0); id < 10; id++ {
		seg.Add(format.DataRow{ID: id, Vector: []float32{1, 2, 3}})
	}

	store := memblob.New()
	result, err := seg.Flush(ctx, map[string]blobstore.Store{"only": store})
	require.NoError(t, err)

	assert.True(t, len(result.Manifest) > 1, "expected rotation to produce multiple segments")
	assert.Len(t, result.Pointers, 10)
}

func TestPlanAndApply_Rebalance(t *testing.T) {
	ctx := context.Background()
	oldCfg := placement.Config{Pgs: 2, Targets: []placement.Target{{Key: "a"}}}

	seg := placement.NewSegmenter(oldCfg, "base", false, 0)
	for id := uint32(1); id <= 20; id++ {
		seg.Add(format.DataRow{ID: id, Vector: []float32{float32(id)}})
	}

	storeA := memblob.New()
	result, err := seg.Flush(ctx, map[string]blobstore.Store{"a": storeA})
	require.NoError(t, err)

	manifest := make([]placement.SegmentRef, len(result.Manifest))
	for i, m := range result.Manifest {
		manifest[i] = placement.SegmentRef{Name: m.Name, TargetKey: m.TargetKey}
	}

	newCfg := placement.Config{Pgs: 2, Targets: []placement.Target{{Key: "a"}, {Key: "b"}}}

	moves := placement.Plan(manifest, newCfg)
	require.NotEmpty(t, moves, "expected at least one pg to resolve to a different target")

	storeB := memblob.New()
	stores := map[string]blobstore.Store{"a": storeA, "b": storeB}

	updated, err := placement.Apply(ctx, manifest, moves, stores, placement.ApplyOptions{Verify: true, Cleanup: true})
	require.NoError(t, err)
	require.Len(t, updated, len(manifest))

	for _, mv := range moves {
		_, err := storeA.Read(ctx, mv.Name)
		assert.Error(t, err, "expected cleanup to delete source segment")

		data, err := storeB.Read(ctx, mv.Name)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}
