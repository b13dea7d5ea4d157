// Package maintenance implements read-only diagnostics and mutating
// upkeep operations over a VectorState (spec §4.13): stats, advisory
// diagnose, HNSW compact-rebuild, IVF retrain+reassign+evaluate, capacity
// resize/shrink, and non-destructive HNSW parameter tuning. Grounded on
// the teacher's internal/store compaction helpers generalized from a
// single swap-compaction pass to strategy-specific rebuild/retrain
// operations, since the teacher has no ANN layer of its own to imitate
// here.
package maintenance

import (
	"fmt"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/bruteforce"
	"github.com/velodb/vela/internal/ann/hnsw"
	"github.com/velodb/vela/internal/ann/ivf"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
	"github.com/velodb/vela/internal/vstate"
)

// Advisory thresholds (spec §4.13 names the checks; the exact cutoffs are
// this package's judgment call, not spec-mandated constants).
const (
	largeBruteForceRows = 50_000
	lowAverageDegreeL0  = 4.0
	highTombstoneRatio  = 0.3
	highIVFImbalance    = 2.0
)

// HNSWStats mirrors hnsw.Stats without requiring callers to import the
// hnsw subpackage just to read diagnostics.
type HNSWStats struct {
	MaxLevel        int
	TombstoneRatio  float64
	AverageDegreeL0 float64
}

// IVFStats mirrors ivf.Stats for the same reason.
type IVFStats struct {
	NList     int
	NProbe    int
	ListSizes []int
	Imbalance float64
}

// Stats is the read-only diagnostics snapshot (spec §4.13 "Stats
// read-only").
type Stats struct {
	Count  int
	Dim    int
	Metric vecmath.Metric
	Kind   ann.StrategyKind

	HNSW *HNSWStats
	IVF  *IVFStats
}

// Diagnostics reports count/dim/metric/strategy plus strategy-specific
// shape stats for state.
func Diagnostics(state *vstate.State) Stats {
	stats := Stats{
		Count:  state.Store.Count(),
		Dim:    state.Store.Dim(),
		Metric: state.Store.Metric(),
		Kind:   state.Strategy.Kind(),
	}

	switch strat := state.Strategy.(type) {
	case *hnsw.Graph:
		s := strat.Stats(state.Store)
		stats.HNSW = &HNSWStats{
			MaxLevel:        s.MaxLevel,
			TombstoneRatio:  s.TombstoneRatio,
			AverageDegreeL0: s.AverageDegreeL0,
		}
	case *ivf.Index:
		s := strat.Stats()
		stats.IVF = &IVFStats{
			NList:     s.NList,
			NProbe:    s.NProbe,
			ListSizes: s.ListSizes,
			Imbalance: s.Imbalance,
		}
	}

	return stats
}

// Advisory is Diagnose's output: advisory messages plus an optional
// recall estimate against brute-force search on sample queries (spec
// §4.13 "Diagnose").
type Advisory struct {
	Messages []string
	Recall   *float64
}

// Diagnose evaluates Stats against fixed advisory thresholds and,
// if sampleQueries is non-empty, estimates recall@k against a brute-force
// scan of the same store.
func Diagnose(state *vstate.State, sampleQueries [][]float32, k int) (Advisory, error) {
	stats := Diagnostics(state)

	var adv Advisory

	switch stats.Kind {
	case ann.KindBruteForce:
		if stats.Count > largeBruteForceRows {
			adv.Messages = append(adv.Messages, fmt.Sprintf(
				"brute-force store has %d rows; consider hnsw or ivf for faster search", stats.Count))
		}

	case ann.KindHNSW:
		if stats.HNSW != nil {
			if stats.Count > 0 && stats.HNSW.AverageDegreeL0 < lowAverageDegreeL0 {
				adv.Messages = append(adv.Messages, fmt.Sprintf(
					"hnsw layer-0 average degree is low (%.2f); consider raising M", stats.HNSW.AverageDegreeL0))
			}

			if stats.HNSW.TombstoneRatio > highTombstoneRatio {
				adv.Messages = append(adv.Messages, fmt.Sprintf(
					"hnsw tombstone ratio is high (%.2f); consider CompactRebuildHNSW", stats.HNSW.TombstoneRatio))
			}
		}

	case ann.KindIVF:
		if stats.IVF != nil && stats.IVF.Imbalance > highIVFImbalance {
			adv.Messages = append(adv.Messages, fmt.Sprintf(
				"ivf posting-list imbalance is high (%.2f); consider RetrainIVF", stats.IVF.Imbalance))
		}
	}

	if len(sampleQueries) == 0 {
		return adv, nil
	}

	recall, err := estimateRecall(state, sampleQueries, k)
	if err != nil {
		return adv, err
	}

	adv.Recall = &recall

	return adv, nil
}

// estimateRecall runs queries through both state's strategy and a
// brute-force scan of the same store, reporting mean recall@k. Used by
// Diagnose for any strategy; ivf.Index.Evaluate does the same comparison
// internally for IVF-specific latency reporting, but this helper is
// strategy-agnostic so HNSW (and bruteforce itself) get an estimate too.
func estimateRecall(state *vstate.State, queries [][]float32, k int) (float64, error) {
	bf := bruteforce.New()

	var total float64

	for _, q := range queries {
		truth, err := bf.Search(state.Store, q, k, nil, ann.SearchControl{})
		if err != nil {
			return 0, err
		}

		got, err := state.Strategy.Search(state.Store, q, k, nil, ann.SearchControl{})
		if err != nil {
			return 0, err
		}

		if len(truth) == 0 {
			total++
			continue
		}

		truthSet := make(map[uint32]struct{}, len(truth))
		for _, t := range truth {
			truthSet[t.ID] = struct{}{}
		}

		hits := 0

		for _, g := range got {
			if _, ok := truthSet[g.ID]; ok {
				hits++
			}
		}

		total += float64(hits) / float64(len(truth))
	}

	return total / float64(len(queries)), nil
}

// CompactRebuildHNSW rebuilds state's HNSW graph with tombstoned rows
// dropped: a fresh store of capacity = live count, non-tombstoned rows
// copied preserving relative id order, and a fresh graph with the same
// parameters re-inserting ids in the new row order (spec §4.3
// "Compact-rebuild"). Returns the rebuilt state and the number of rows
// removed. Fails with errs.ErrFormatError if state's strategy isn't HNSW.
func CompactRebuildHNSW(state *vstate.State) (*vstate.State, int, error) {
	graph, ok := state.Strategy.(*hnsw.Graph)
	if !ok {
		return nil, 0, fmt.Errorf("%w: compact-rebuild requires an hnsw strategy", errs.ErrFormatError)
	}

	liveRows := graph.LiveRows(state.Store)
	removed := state.Store.Count() - len(liveRows)

	fresh := vectorstore.New(state.Store.Dim(), state.Store.Metric(), max(len(liveRows), 1))
	freshGraph := hnsw.New(graph.Params())

	for _, row := range liveRows {
		id := state.Store.IDAt(row)
		vector := state.Store.VectorAt(row)
		meta := state.Store.MetaAt(row)

		res, err := fresh.InsertOrUpdate(id, vector, true)
		if err != nil {
			return nil, 0, fmt.Errorf("maintenance: compact-rebuild: restoring id %d: %w", id, err)
		}

		if len(meta) > 0 {
			fresh.UpdateMeta(id, meta)
		}

		if err := freshGraph.OnInsert(fresh, res.Row, res.Created); err != nil {
			return nil, 0, fmt.Errorf("maintenance: compact-rebuild: indexing id %d: %w", id, err)
		}
	}

	return vstate.New(fresh, freshGraph), removed, nil
}

// RetrainIVF retrains state's IVF centroids via k-means and reassigns
// every row to its new nearest centroid (spec §4.13 "IVF retrain+
// reassign"). Fails with errs.ErrFormatError if state's strategy isn't
// IVF.
func RetrainIVF(state *vstate.State) error {
	index, ok := state.Strategy.(*ivf.Index)
	if !ok {
		return fmt.Errorf("%w: retrain requires an ivf strategy", errs.ErrFormatError)
	}

	index.Train(state.Store)
	index.Reassign(state.Store)

	return nil
}

// EvaluateIVF reports IVF search quality against brute-force ground truth
// (spec §4.4 "Evaluate"). Fails with errs.ErrFormatError if state's
// strategy isn't IVF.
func EvaluateIVF(state *vstate.State, queries [][]float32, k int) (ivf.EvalResult, error) {
	index, ok := state.Strategy.(*ivf.Index)
	if !ok {
		return ivf.EvalResult{}, fmt.Errorf("%w: evaluate requires an ivf strategy", errs.ErrFormatError)
	}

	return index.Evaluate(state.Store, queries, k)
}

// Resize shrinks state's store capacity, never discarding live rows
// (spec §4.13 "capacity resize/shrink").
func Resize(state *vstate.State, newCapacity int) {
	state.Store.Shrink(newCapacity)
}

// HNSWTuneResult is one point in a parameter-tuning grid search.
type HNSWTuneResult struct {
	M        int
	EfSearch int
	Recall   float64
}

// TuneHNSW non-destructively grid-searches {M, efSearch} combinations: for
// each combination it builds a throwaway HNSW graph with that M (keeping
// every other configured param) over state's current rows, measures
// recall@k against brute-force ground truth on sampleQueries, and reports
// every combination's result — state itself is never mutated (spec §4.13
// "non-destructive parameter-grid tuning for HNSW {M, efSearch}"). Fails
// with errs.ErrFormatError if state's strategy isn't HNSW.
func TuneHNSW(state *vstate.State, mValues, efSearchValues []int, sampleQueries [][]float32, k int) ([]HNSWTuneResult, error) {
	graph, ok := state.Strategy.(*hnsw.Graph)
	if !ok {
		return nil, fmt.Errorf("%w: tuning requires an hnsw strategy", errs.ErrFormatError)
	}

	baseParams := graph.Params()

	results := make([]HNSWTuneResult, 0, len(mValues)*len(efSearchValues))

	for _, m := range mValues {
		for _, ef := range efSearchValues {
			params := baseParams
			params.M = m
			params.EfSearch = ef

			candidate := hnsw.New(params)

			for row := 0; row < state.Store.Count(); row++ {
				if err := candidate.OnInsert(state.Store, row, true); err != nil {
					return nil, fmt.Errorf("maintenance: tune: building candidate graph: %w", err)
				}
			}

			candidateState := vstate.New(state.Store, candidate)

			recall, err := estimateRecall(candidateState, sampleQueries, k)
			if err != nil {
				return nil, fmt.Errorf("maintenance: tune: evaluating m=%d ef=%d: %w", m, ef, err)
			}

			results = append(results, HNSWTuneResult{M: m, EfSearch: ef, Recall: recall})
		}
	}

	return results, nil
}
