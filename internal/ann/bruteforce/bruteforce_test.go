package bruteforce_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/bruteforce"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
)

func TestSearch_CosineTopK(t *testing.T) {
	store := vectorstore.New(3, vecmath.MetricCosine, 4)
	_, err := store.InsertOrUpdate(1, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	_, err = store.InsertOrUpdate(2, []float32{0.9, 0, 0}, true)
	require.NoError(t, err)
	_, err = store.InsertOrUpdate(3, []float32{0, 1, 0}, true)
	require.NoError(t, err)

	s := bruteforce.New()
	q := store.NormalizeQuery([]float32{0.95, 0, 0})

	results, err := s.Search(store, q, 2, nil, ann.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := map[uint32]bool{results[0].ID: true, results[1].ID: true}
	assert.True(t, ids[1])
	assert.True(t, ids[2])
	assert.InDelta(t, 1.0, results[0].Score, 1e-3)
}

func TestSearch_AfterRemove(t *testing.T) {
	store := vectorstore.New(3, vecmath.MetricCosine, 4)
	_, _ = store.InsertOrUpdate(1, []float32{1, 0, 0}, true)
	_, _ = store.InsertOrUpdate(2, []float32{0.9, 0, 0}, true)
	_, _ = store.InsertOrUpdate(3, []float32{0, 1, 0}, true)

	_, err := store.RemoveByID(1)
	require.NoError(t, err)

	s := bruteforce.New()
	q := store.NormalizeQuery([]float32{0.95, 0, 0})

	results, err := s.Search(store, q, 2, nil, ann.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := map[uint32]bool{results[0].ID: true, results[1].ID: true}
	assert.True(t, ids[2])
	assert.True(t, ids[3])
}

func TestSearch_CandidateRestriction(t *testing.T) {
	store := vectorstore.New(2, vecmath.MetricDot, 4)
	_, _ = store.InsertOrUpdate(1, []float32{1, 0}, true)
	_, _ = store.InsertOrUpdate(2, []float32{2, 0}, true)
	_, _ = store.InsertOrUpdate(3, []float32{3, 0}, true)

	row1, _ := store.RowOf(1)

	s := bruteforce.New()
	results, err := s.Search(store, []float32{1, 0}, 5, nil, ann.SearchControl{
		Candidates: ann.NewCandidateSet([]int{row1}),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ID)
}

func TestSearch_Predicate(t *testing.T) {
	store := vectorstore.New(2, vecmath.MetricDot, 4)
	_, _ = store.InsertOrUpdate(1, []float32{1, 0}, true)
	_, _ = store.InsertOrUpdate(2, []float32{2, 0}, true)

	s := bruteforce.New()
	results, err := s.Search(store, []float32{1, 0}, 5, func(row int) bool {
		return store.IDAt(row) != 2
	}, ann.SearchControl{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ID)
}
