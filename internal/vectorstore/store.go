// Package vectorstore implements the Core Store (spec §4.1): authoritative
// in-memory columnar storage of (id, vector, meta) rows with O(1) lookup by
// id, contiguous vector storage for cache-friendly scoring, and swap-remove
// compaction. It has no notion of ANN strategies — those layer on top via
// internal/vstate — and no notion of persistence, which lives in
// internal/indexing.
//
// The design generalizes the teacher's slotcache (pkg/slotcache/slotcache.go):
// dense parallel arrays, capacity doubling, and swap-on-delete compaction,
// but drops slotcache's mmap/seqlock machinery since the store here is
// purely in-process and already serialized by the caller's single-writer
// lock (spec §5).
package vectorstore

import (
	"fmt"

	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/vecmath"
)

// Store is the Core Store: dense SoA arrays of ids, vectors, and meta, plus
// an id -> row-index map. Not safe for concurrent use; callers serialize
// mutation externally (spec §5).
type Store struct {
	dim      int
	metric   vecmath.Metric
	capacity int
	count    int

	ids     []uint32
	vectors []float32 // len == capacity*dim, row i at vectors[i*dim:(i+1)*dim]
	metas   [][]byte  // len == capacity, metas[i] may be nil

	byID map[uint32]int // id -> row index
}

// New returns a Store for dim-dimensional vectors scored under metric, with
// room for at least capacity rows (capacity is clamped to at least 1).
func New(dim int, metric vecmath.Metric, capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}

	return &Store{
		dim:      dim,
		metric:   metric,
		capacity: capacity,
		ids:      make([]uint32, capacity),
		vectors:  make([]float32, capacity*dim),
		metas:    make([][]byte, capacity),
		byID:     make(map[uint32]int, capacity),
	}
}

// Dim returns the configured vector dimension.
func (s *Store) Dim() int { return s.dim }

// Metric returns the configured similarity metric.
func (s *Store) Metric() vecmath.Metric { return s.metric }

// Count returns the number of live rows.
func (s *Store) Count() int { return s.count }

// Capacity returns the current row capacity.
func (s *Store) Capacity() int { return s.capacity }

// RowOf returns the row index for id, if present.
func (s *Store) RowOf(id uint32) (int, bool) {
	row, ok := s.byID[id]

	return row, ok
}

// IDAt returns the id stored at row.
func (s *Store) IDAt(row int) uint32 { return s.ids[row] }

// VectorAt returns the vector slice for row. The slice aliases the store's
// backing array; callers must not retain it across a mutation.
func (s *Store) VectorAt(row int) []float32 {
	return s.vectors[row*s.dim : (row+1)*s.dim]
}

// MetaAt returns the meta payload for row, which may be nil.
func (s *Store) MetaAt(row int) []byte { return s.metas[row] }

// VectorBuffer returns the full backing vector buffer (capacity*dim
// floats), for kernels that score by row*dim offset (internal/vecmath).
func (s *Store) VectorBuffer() []float32 { return s.vectors }

// Ensure grows capacity (doubling) while count+extra > capacity. Returns
// true if it grew. All parallel arrays are preserved.
func (s *Store) Ensure(extra int) bool {
	grew := false

	for s.count+extra > s.capacity {
		newCap := s.capacity * 2
		if newCap == 0 {
			newCap = 1
		}

		newIDs := make([]uint32, newCap)
		copy(newIDs, s.ids)

		newVectors := make([]float32, newCap*s.dim)
		copy(newVectors, s.vectors)

		newMetas := make([][]byte, newCap)
		copy(newMetas, s.metas)

		s.ids = newIDs
		s.vectors = newVectors
		s.metas = newMetas
		s.capacity = newCap
		grew = true
	}

	return grew
}

// InsertResult reports the outcome of InsertOrUpdate.
type InsertResult struct {
	Row     int
	Created bool
}

// InsertOrUpdate validates vector's length against dim, then either
// updates the existing row for id or appends a new one, growing capacity
// if needed. If metric is cosine, the stored row is normalized in place
// after the write (spec invariant: cosine rows are always unit length).
func (s *Store) InsertOrUpdate(id uint32, vector []float32, upsert bool) (InsertResult, error) {
	if len(vector) != s.dim {
		return InsertResult{}, fmt.Errorf("%w: got %d, want %d", errs.ErrDimMismatch, len(vector), s.dim)
	}

	if row, ok := s.byID[id]; ok {
		if !upsert {
			return InsertResult{}, fmt.Errorf("%w: id %d", errs.ErrDuplicate, id)
		}

		copy(s.VectorAt(row), vector)

		if s.metric == vecmath.MetricCosine {
			vecmath.Normalize(s.VectorAt(row))
		}

		return InsertResult{Row: row, Created: false}, nil
	}

	s.Ensure(1)

	row := s.count
	s.ids[row] = id
	copy(s.VectorAt(row), vector)
	s.metas[row] = nil

	if s.metric == vecmath.MetricCosine {
		vecmath.Normalize(s.VectorAt(row))
	}

	s.byID[id] = row
	s.count++

	return InsertResult{Row: row, Created: true}, nil
}

// MoveResult reports the row relocated by a swap-remove, if any.
type MoveResult struct {
	Moved     bool
	MovedID   uint32
	MovedFrom int
	MovedTo   int
}

// RemoveByID removes id using swap-with-last compaction: the removed row
// is overwritten by the last live row (unless it already is the last),
// the map is updated for the moved id, and count is decremented. Returns
// nil if id is absent.
func (s *Store) RemoveByID(id uint32) (*MoveResult, error) {
	row, ok := s.byID[id]
	if !ok {
		return nil, nil //nolint:nilnil // absence is a valid, non-error outcome per spec §4.1
	}

	last := s.count - 1
	delete(s.byID, id)

	if row == last {
		s.clearRow(row)
		s.count--

		return &MoveResult{Moved: false}, nil
	}

	movedID := s.ids[last]

	s.ids[row] = movedID
	copy(s.VectorAt(row), s.VectorAt(last))
	s.metas[row] = s.metas[last]
	s.byID[movedID] = row

	s.clearRow(last)
	s.count--

	return &MoveResult{Moved: true, MovedID: movedID, MovedFrom: last, MovedTo: row}, nil
}

func (s *Store) clearRow(row int) {
	s.ids[row] = 0
	for i := range s.VectorAt(row) {
		s.VectorAt(row)[i] = 0
	}
	s.metas[row] = nil
}

// Get returns the vector and meta for id.
func (s *Store) Get(id uint32) (vector []float32, meta []byte, ok bool) {
	row, ok := s.byID[id]
	if !ok {
		return nil, nil, false
	}

	return s.VectorAt(row), s.metas[row], true
}

// GetMeta returns the meta payload for id.
func (s *Store) GetMeta(id uint32) ([]byte, bool) {
	row, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	return s.metas[row], true
}

// UpdateMeta replaces the meta payload for id. Returns false if id is
// absent.
func (s *Store) UpdateMeta(id uint32, meta []byte) bool {
	row, ok := s.byID[id]
	if !ok {
		return false
	}

	s.metas[row] = meta

	return true
}

// NormalizeQuery returns a normalized copy of query when metric is cosine,
// otherwise returns query unchanged.
func (s *Store) NormalizeQuery(query []float32) []float32 {
	if s.metric != vecmath.MetricCosine {
		return query
	}

	return vecmath.Normalized(query)
}

// AppendRaw appends a row directly without validation or normalization,
// growing capacity as needed. Used by bulk loaders (WAL replay, segment
// rehydration) that have already validated and normalized the data.
func (s *Store) AppendRaw(id uint32, vector []float32, meta []byte) int {
	s.Ensure(1)

	row := s.count
	s.ids[row] = id
	copy(s.VectorAt(row), vector)
	s.metas[row] = meta
	s.byID[id] = row
	s.count++

	return row
}

// RestoreFromDeserialized rebuilds the id -> row-index map from the ids
// array after bulk-loading count rows directly (e.g. via AppendRaw in a
// loop, or by writing into VectorBuffer/IDAt-backed arrays out of band).
func (s *Store) RestoreFromDeserialized(count int) error {
	if count > s.capacity {
		return fmt.Errorf("%w: count %d exceeds capacity %d", errs.ErrFormatError, count, s.capacity)
	}

	s.count = count
	s.byID = make(map[uint32]int, count)

	for row := 0; row < count; row++ {
		s.byID[s.ids[row]] = row
	}

	return nil
}

// Shrink reduces capacity to newCapacity, dropping unused tail rows.
// newCapacity below count is clamped up to count: Shrink never discards
// live rows (spec §4.13 maintenance "capacity resize/shrink").
func (s *Store) Shrink(newCapacity int) {
	if newCapacity < s.count {
		newCapacity = s.count
	}

	if newCapacity >= s.capacity {
		return
	}

	s.ids = append([]uint32(nil), s.ids[:newCapacity]...)
	s.vectors = append([]float32(nil), s.vectors[:newCapacity*s.dim]...)
	s.metas = append([][]byte(nil), s.metas[:newCapacity]...)
	s.capacity = newCapacity
}

// Each calls fn for every live row, in row order.
func (s *Store) Each(fn func(row int, id uint32, vector []float32, meta []byte)) {
	for row := 0; row < s.count; row++ {
		fn(row, s.ids[row], s.VectorAt(row), s.metas[row])
	}
}
