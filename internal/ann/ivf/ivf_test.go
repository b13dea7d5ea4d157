package ivf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/ivf"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
)

func seedStore(t *testing.T, ix *ivf.Index) *vectorstore.Store {
	t.Helper()

	store := vectorstore.New(2, vecmath.MetricDot, 8)

	vectors := map[uint32][]float32{
		1: {10, 0},
		2: {11, 0},
		3: {0, 10},
		4: {0, 11},
	}

	for _, id := range []uint32{1, 2, 3, 4} {
		res, err := store.InsertOrUpdate(id, vectors[id], true)
		require.NoError(t, err)
		require.NoError(t, ix.OnInsert(store, res.Row, res.Created))
	}

	return store
}

func TestIVF_SeedsCentroidsThenAssigns(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2})
	_ = seedStore(t, ix)

	stats := ix.Stats()
	total := 0

	for _, n := range stats.ListSizes {
		total += n
	}

	assert.Equal(t, 4, total)
}

func TestIVF_Search(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2})
	store := seedStore(t, ix)

	results, err := ix.Search(store, []float32{10, 0}, 2, nil, ann.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := map[uint32]bool{results[0].ID: true, results[1].ID: true}
	assert.True(t, got[1])
	assert.True(t, got[2])
}

func TestIVF_RemoveAndRowMoved(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2})
	store := seedStore(t, ix)

	row1, _ := store.RowOf(1)
	ix.OnRemove(store, row1)

	move, err := store.RemoveByID(1)
	require.NoError(t, err)

	if move != nil && move.Moved {
		ix.OnRowMoved(move.MovedFrom, move.MovedTo)
	}

	results, err := ix.Search(store, []float32{10, 0}, 5, nil, ann.SearchControl{})
	require.NoError(t, err)

	for _, r := range results {
		assert.NotEqual(t, uint32(1), r.ID)
	}
}

func TestIVF_TrainThenReassignKeepsTotalCount(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2, Seed: 7})
	store := seedStore(t, ix)

	ix.Train(store)

	stats := ix.Stats()
	total := 0

	for _, n := range stats.ListSizes {
		total += n
	}

	assert.Equal(t, store.Count(), total)

	ix.Reassign(store)

	stats = ix.Stats()
	total = 0

	for _, n := range stats.ListSizes {
		total += n
	}

	assert.Equal(t, store.Count(), total)
}

func TestIVF_SerializeDeserializeRoundtrip(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2})
	store := seedStore(t, ix)

	blob, err := ix.Serialize(store)
	require.NoError(t, err)

	ix2, err := ivf.Deserialize(blob, store)
	require.NoError(t, err)

	before, err := ix.Search(store, []float32{10, 0}, 2, nil, ann.SearchControl{})
	require.NoError(t, err)

	after, err := ix2.Search(store, []float32{10, 0}, 2, nil, ann.SearchControl{})
	require.NoError(t, err)

	assert.ElementsMatch(t, idsOf(before), idsOf(after))
}

func TestIVF_Evaluate(t *testing.T) {
	ix := ivf.New(2, ivf.Params{NList: 2, NProbe: 2})
	store := seedStore(t, ix)

	result, err := ix.Evaluate(store, [][]float32{{10, 0}, {0, 10}}, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.MeanRecall, 0.0)
	assert.LessOrEqual(t, result.MeanRecall, 1.0)
}

func idsOf(items []topk.Scored) []uint32 {
	out := make([]uint32, len(items))
	for i, it := range items {
		out[i] = it.ID
	}

	return out
}
