// Package ann defines the shared surface the three ANN strategies
// (bruteforce, hnsw, ivf) implement. Per spec §9 ("Strategy
// polymorphism"), the strategies share almost no internal state, so rather
// than force them through a common struct, each lives in its own
// subpackage and satisfies this narrow interface. The composing VectorState
// (internal/vstate) holds a Strategy by value and dispatches to it; it never
// reaches into a strategy's internals.
package ann

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vectorstore"
)

// Predicate reports whether row should be considered a search candidate.
// nil means "no filter": every row passes.
type Predicate func(row int) bool

// SeedSelection controls how HNSW soft-filter mode chooses graph entry
// seeds from a candidate set (spec §4.6).
type SeedSelection int

const (
	SeedRandom SeedSelection = iota
	SeedTopFreq
)

// SearchControl carries the knobs a caller may supply for a single search,
// beyond the strategy's own construction-time defaults (spec §4.5, §4.6).
type SearchControl struct {
	// EfSearch overrides the strategy's configured ef/nprobe-equivalent
	// breadth for this call. Zero means "use the strategy default".
	EfSearch int

	// Candidates restricts scoring to this row set when non-nil (the
	// "hard" filter mode for bruteforce/HNSW, or the sole mode for a
	// filtered bruteforce scan).
	Candidates *CandidateSet

	// SoftFilter requests HNSW's graph-traversal-with-bias mode instead
	// of candidates-only hard scoring (spec §4.6).
	SoftFilter bool

	SeedCount       int
	SeedSelection   SeedSelection
	BridgeBudget    int
	AdaptiveEf      bool
	EarlyStopMargin float32
}

// CandidateSet is a preselected set of eligible row indices, built from an
// attribute-index preselection (internal/filter) and handed to a
// strategy's Search to restrict or bias candidate consideration. Backed by
// a Roaring bitmap rather than a Go map: candidate sets are produced from
// attribute-index preselection over potentially large row counts, and
// roaring's compressed representation keeps that cheap to build, probe,
// and hand across the ann/filter boundary.
type CandidateSet struct {
	bitmap *roaring.Bitmap
}

// NewCandidateSet builds a CandidateSet from row indices.
func NewCandidateSet(rows []int) *CandidateSet {
	bm := roaring.New()
	for _, r := range rows {
		bm.Add(uint32(r))
	}

	return &CandidateSet{bitmap: bm}
}

// Contains reports whether row is a member of the set.
func (c *CandidateSet) Contains(row int) bool {
	if c == nil {
		return true
	}

	return c.bitmap.Contains(uint32(row))
}

// Len returns the number of candidate rows, or -1 if c is nil (unbounded).
func (c *CandidateSet) Len() int {
	if c == nil {
		return -1
	}

	return int(c.bitmap.GetCardinality())
}

// Rows returns the candidate row indices in ascending order.
func (c *CandidateSet) Rows() []int {
	if c == nil {
		return nil
	}

	arr := c.bitmap.ToArray()
	out := make([]int, len(arr))

	for i, v := range arr {
		out[i] = int(v)
	}

	return out
}

// Strategy is the common capability set every ANN strategy exposes (spec
// §9: "add, remove, search, serialize, deserialize").
type Strategy interface {
	// Kind identifies the strategy for serialization framing.
	Kind() StrategyKind

	// OnInsert is called after store.InsertOrUpdate placed/updated a
	// vector at row. created distinguishes a brand-new row from an
	// in-place update of an existing one.
	OnInsert(store *vectorstore.Store, row int, created bool) error

	// OnRemove is called after the id at row has been marked for
	// removal but before the store's swap-compaction has happened.
	OnRemove(store *vectorstore.Store, row int)

	// OnRowMoved is called after the store's swap-remove compaction
	// relocated the row previously at from to to.
	OnRowMoved(from, to int)

	// Search returns up to k results honoring control.
	Search(store *vectorstore.Store, query []float32, k int, pred Predicate, control SearchControl) ([]topk.Scored, error)

	// Serialize encodes the strategy's auxiliary state (not the store
	// itself) to bytes. store is provided because strategies trim
	// per-row state to the store's live row count.
	Serialize(store *vectorstore.Store) ([]byte, error)
}

// StrategyKind mirrors internal/codec.Strategy without importing codec
// from ann (kept dependency-light; internal/indexing maps between them).
type StrategyKind int

const (
	KindBruteForce StrategyKind = iota
	KindHNSW
	KindIVF
)
