// Package vstate composes a vectorstore.Store with an ann.Strategy into the
// single "VectorState" entity the rest of the system operates on (spec §3:
// "Owned by a VectorState"). It is the seam where store mutation and
// strategy bookkeeping are kept in lockstep: every insert/remove routes
// through here so a strategy never observes a store mutation it wasn't
// told about, and vice versa.
package vstate

import (
	"fmt"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vectorstore"
)

// State binds a Core Store to the ANN strategy that indexes it.
type State struct {
	Store    *vectorstore.Store
	Strategy ann.Strategy
}

// New binds store and strategy into a State.
func New(store *vectorstore.Store, strategy ann.Strategy) *State {
	return &State{Store: store, Strategy: strategy}
}

// Upsert validates and writes id/vector into the store, then notifies the
// strategy of the resulting row (spec §4.1/§4.3/§4.4 "Insert(id)").
func (s *State) Upsert(id uint32, vector []float32, upsert bool) error {
	res, err := s.Store.InsertOrUpdate(id, vector, upsert)
	if err != nil {
		return err
	}

	return s.Strategy.OnInsert(s.Store, res.Row, res.Created)
}

// Remove deletes id, tombstoning/unlinking it in the strategy before the
// store's swap-compaction runs, then informing the strategy of any row
// relocation the compaction caused. Returns false if id was absent.
func (s *State) Remove(id uint32) (bool, error) {
	row, ok := s.Store.RowOf(id)
	if !ok {
		return false, nil
	}

	s.Strategy.OnRemove(s.Store, row)

	move, err := s.Store.RemoveByID(id)
	if err != nil {
		return false, err
	}

	if move != nil && move.Moved {
		s.Strategy.OnRowMoved(move.MovedFrom, move.MovedTo)
	}

	return true, nil
}

// SetMeta replaces id's meta payload. Returns false if id is absent.
func (s *State) SetMeta(id uint32, meta []byte) bool {
	return s.Store.UpdateMeta(id, meta)
}

// Get returns the vector and meta for id.
func (s *State) Get(id uint32) (vector []float32, meta []byte, ok bool) {
	return s.Store.Get(id)
}

// Search validates query's dimension, normalizes it per metric, and
// delegates to the bound strategy (spec §4.6).
func (s *State) Search(query []float32, k int, pred ann.Predicate, control ann.SearchControl) ([]topk.Scored, error) {
	if len(query) != s.Store.Dim() {
		return nil, fmt.Errorf("%w: got %d, want %d", errs.ErrDimMismatch, len(query), s.Store.Dim())
	}

	normalized := s.Store.NormalizeQuery(query)

	return s.Strategy.Search(s.Store, normalized, k, pred, control)
}
