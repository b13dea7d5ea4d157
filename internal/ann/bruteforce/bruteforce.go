// Package bruteforce implements the no-auxiliary-state ANN strategy (spec
// §4.2): every search is a full linear scan of the store scored under its
// configured metric, optionally narrowed to a candidate row set.
package bruteforce

import (
	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
)

// Strategy is the bruteforce ANN strategy. It carries no per-row state, so
// insert/remove/row-move are all no-ops; only Search does work.
type Strategy struct{}

// New returns a bruteforce Strategy.
func New() *Strategy { return &Strategy{} }

func (s *Strategy) Kind() ann.StrategyKind { return ann.KindBruteForce }

func (s *Strategy) OnInsert(_ *vectorstore.Store, _ int, _ bool) error { return nil }

func (s *Strategy) OnRemove(_ *vectorstore.Store, _ int) {}

func (s *Strategy) OnRowMoved(_, _ int) {}

// Search scans every live row (or, if control.Candidates is set, only
// those rows), applies pred, and keeps the top-k by score.
func (s *Strategy) Search(store *vectorstore.Store, query []float32, k int, pred ann.Predicate, control ann.SearchControl) ([]topk.Scored, error) {
	top := topk.NewHeap(k)
	metric := store.Metric()
	dim := store.Dim()
	buf := store.VectorBuffer()

	scoreRow := func(row int) {
		if control.Candidates != nil && !control.Candidates.Contains(row) {
			return
		}

		if pred != nil && !pred(row) {
			return
		}

		score := vecmath.ScoreAt(metric, buf, row, dim, query)
		top.Add(store.IDAt(row), score)
	}

	if control.Candidates != nil {
		for _, row := range control.Candidates.Rows() {
			if row < store.Count() {
				scoreRow(row)
			}
		}
	} else {
		for row := 0; row < store.Count(); row++ {
			scoreRow(row)
		}
	}

	return top.Items(), nil
}

// Serialize encodes nothing: bruteforce has no auxiliary state.
func (s *Strategy) Serialize(_ *vectorstore.Store) ([]byte, error) { return nil, nil }

// Deserialize is a no-op; present for symmetry with the other strategies.
func Deserialize(_ []byte) (*Strategy, error) { return &Strategy{}, nil }
