// Package ivf implements the IVF ANN strategy (spec §4.4): centroids plus
// per-cluster posting lists, with k-means-style training. Posting lists
// are kept row-indexed at runtime for the same cache-locality reasons as
// hnsw's adjacency (spec §9 "Cyclic graph / arena"), and are translated to
// ids only at the serialization boundary, where the spec's wire format
// names them explicitly as id lists.
package ivf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/bruteforce"
	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
)

// Params configures an Index (spec §4.4).
type Params struct {
	NList  int
	NProbe int
	Seed   int64
}

// Normalize clamps NProbe to [1, NList] and NList to at least 1, per spec.
func (p Params) Normalize() Params {
	if p.NList < 1 {
		p.NList = 1
	}

	if p.NProbe < 1 {
		p.NProbe = 1
	}

	if p.NProbe > p.NList {
		p.NProbe = p.NList
	}

	return p
}

// Index is the IVF strategy state.
type Index struct {
	params Params
	dim    int

	centroidCount int
	centroids     []float32 // nlist*dim

	lists     [][]int // per-cluster row indices
	rowToList []int   // row -> cluster index, -1 if unassigned

	rng *ann.XorShift32
}

// New returns an empty Index for dim-dimensional vectors.
func New(dim int, params Params) *Index {
	params = params.Normalize()

	return &Index{
		params:    params,
		dim:       dim,
		centroids: make([]float32, params.NList*dim),
		lists:     make([][]int, params.NList),
		rowToList: nil,
		rng:       ann.NewXorShift32(params.Seed),
	}
}

func (ix *Index) Kind() ann.StrategyKind { return ann.KindIVF }

func (ix *Index) centroidAt(i int) []float32 {
	return ix.centroids[i*ix.dim : (i+1)*ix.dim]
}

func (ix *Index) ensureRowCapacity(row int) {
	if row < len(ix.rowToList) {
		return
	}

	grown := make([]int, row+1)
	copy(grown, ix.rowToList)

	for i := len(ix.rowToList); i <= row; i++ {
		grown[i] = -1
	}

	ix.rowToList = grown
}

func scoreVec(metric vecmath.Metric, a, b []float32) float32 {
	switch metric {
	case vecmath.MetricL2:
		var sum float32

		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}

		return -sum
	default:
		var dot float32

		for i := range a {
			dot += a[i] * b[i]
		}

		return dot
	}
}

func (ix *Index) nearestCentroid(metric vecmath.Metric, v []float32) int {
	best := 0
	bestScore := scoreVec(metric, ix.centroidAt(0), v)

	for i := 1; i < ix.centroidCount; i++ {
		s := scoreVec(metric, ix.centroidAt(i), v)
		if s > bestScore {
			bestScore = s
			best = i
		}
	}

	return best
}

// OnInsert seeds a new centroid from the first nlist inserted rows, then
// assigns subsequent rows to their nearest centroid (spec §4.4).
func (ix *Index) OnInsert(store *vectorstore.Store, row int, created bool) error {
	if !created {
		return nil
	}

	ix.ensureRowCapacity(row)

	vector := store.VectorAt(row)

	var cluster int

	if ix.centroidCount < ix.params.NList {
		cluster = ix.centroidCount
		copy(ix.centroidAt(cluster), vector)
		ix.centroidCount++
	} else {
		cluster = ix.nearestCentroid(store.Metric(), vector)
	}

	ix.lists[cluster] = append(ix.lists[cluster], row)
	ix.rowToList[row] = cluster

	return nil
}

// OnRemove drops row from its posting list.
func (ix *Index) OnRemove(_ *vectorstore.Store, row int) {
	if row >= len(ix.rowToList) {
		return
	}

	cluster := ix.rowToList[row]
	if cluster < 0 {
		return
	}

	ix.lists[cluster] = removeInt(ix.lists[cluster], row)
	ix.rowToList[row] = -1
}

func removeInt(list []int, v int) []int {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}

// OnRowMoved repoints row from's posting-list membership to to.
func (ix *Index) OnRowMoved(from, to int) {
	if from == to {
		return
	}

	ix.ensureRowCapacity(from)
	ix.ensureRowCapacity(to)

	cluster := ix.rowToList[from]
	ix.rowToList[to] = cluster
	ix.rowToList[from] = -1

	if cluster < 0 {
		return
	}

	for i, r := range ix.lists[cluster] {
		if r == from {
			ix.lists[cluster][i] = to
			break
		}
	}
}

// Search scores the query against all centroids, probes the top nprobe by
// score, and scans their posting lists maintaining top-k via insertion
// sort (spec §4.4). When control.Candidates is set, search bypasses
// clustering entirely and scores only the candidate rows, mirroring the
// other strategies' hard-filter mode (spec §4.6 generalized to IVF).
func (ix *Index) Search(store *vectorstore.Store, query []float32, k int, pred ann.Predicate, control ann.SearchControl) ([]topk.Scored, error) {
	if len(query) != store.Dim() {
		return nil, fmt.Errorf("%w: got %d, want %d", errs.ErrDimMismatch, len(query), store.Dim())
	}

	top := topk.NewArray(k)

	if control.Candidates != nil {
		for _, row := range control.Candidates.Rows() {
			if row >= store.Count() {
				continue
			}

			if pred != nil && !pred(row) {
				continue
			}

			top.Add(store.IDAt(row), vecmath.ScoreAt(store.Metric(), store.VectorBuffer(), row, store.Dim(), query))
		}

		return top.Items(), nil
	}

	nprobe := control.EfSearch
	if nprobe <= 0 {
		nprobe = ix.params.NProbe
	}

	if nprobe > ix.centroidCount {
		nprobe = ix.centroidCount
	}

	probed := ix.topCentroids(store.Metric(), query, nprobe)

	for _, cluster := range probed {
		for _, row := range ix.lists[cluster] {
			if row >= store.Count() {
				continue
			}

			if pred != nil && !pred(row) {
				continue
			}

			top.Add(store.IDAt(row), vecmath.ScoreAt(store.Metric(), store.VectorBuffer(), row, store.Dim(), query))
		}
	}

	return top.Items(), nil
}

func (ix *Index) topCentroids(metric vecmath.Metric, query []float32, nprobe int) []int {
	type scored struct {
		idx   int
		score float32
	}

	scores := make([]scored, ix.centroidCount)
	for i := 0; i < ix.centroidCount; i++ {
		scores[i] = scored{i, scoreVec(metric, ix.centroidAt(i), query)}
	}

	for i := 0; i < len(scores); i++ {
		best := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].score > scores[best].score {
				best = j
			}
		}

		scores[i], scores[best] = scores[best], scores[i]
	}

	if nprobe > len(scores) {
		nprobe = len(scores)
	}

	out := make([]int, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = scores[i].idx
	}

	return out
}

// sampleDistinctRows picks k distinct rows from [0,count) via a partial
// Fisher-Yates shuffle, spending O(k) swaps instead of materializing the
// whole permutation (spec §4.4 "seeds k distinct rows at random").
func (ix *Index) sampleDistinctRows(count, k int) []int {
	pool := make([]int, count)
	for i := range pool {
		pool[i] = i
	}

	for i := 0; i < k; i++ {
		j := i + ix.rng.IntN(count-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:k]
}

const trainIterations = 10

// Train runs k-means-style centroid training over every live row in
// store (spec §4.4 "Train centroids"). It reseeds centroids from scratch.
func (ix *Index) Train(store *vectorstore.Store) {
	count := store.Count()
	if count == 0 {
		return
	}

	k := ix.params.NList
	metric := store.Metric()

	var seedRows []int
	if count >= k {
		seedRows = ix.sampleDistinctRows(count, k)
	} else {
		seedRows = make([]int, k)
		for i := 0; i < k; i++ {
			seedRows[i] = i % count
		}
	}

	for i, row := range seedRows {
		copy(ix.centroidAt(i), store.VectorAt(row))
	}

	ix.centroidCount = k

	assignment := make([]int, count)

	for iter := 0; iter < trainIterations; iter++ {
		for row := 0; row < count; row++ {
			assignment[row] = ix.nearestCentroid(metric, store.VectorAt(row))
		}

		sums := make([][]float32, k)
		counts := make([]int, k)

		for i := range sums {
			sums[i] = make([]float32, ix.dim)
		}

		for row := 0; row < count; row++ {
			c := assignment[row]
			counts[c]++

			v := store.VectorAt(row)
			for d := 0; d < ix.dim; d++ {
				sums[c][d] += v[d]
			}
		}

		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // empty clusters keep their previous centroid
			}

			dst := ix.centroidAt(c)
			for d := 0; d < ix.dim; d++ {
				dst[d] = sums[c][d] / float32(counts[c])
			}

			if metric != vecmath.MetricL2 {
				vecmath.Normalize(dst)
			}
		}
	}

	ix.reassignFromAssignment(store, assignment)
}

// Reassign clears all posting lists and reassigns every row to its
// nearest current centroid, without moving the centroids themselves
// (spec §4.4 "Reassign").
func (ix *Index) Reassign(store *vectorstore.Store) {
	count := store.Count()
	metric := store.Metric()

	assignment := make([]int, count)
	for row := 0; row < count; row++ {
		assignment[row] = ix.nearestCentroid(metric, store.VectorAt(row))
	}

	ix.reassignFromAssignment(store, assignment)
}

func (ix *Index) reassignFromAssignment(store *vectorstore.Store, assignment []int) {
	for i := range ix.lists {
		ix.lists[i] = nil
	}

	ix.ensureRowCapacity(store.Count() - 1)

	for row, cluster := range assignment {
		ix.lists[cluster] = append(ix.lists[cluster], row)
		ix.rowToList[row] = cluster
	}
}

// EvalResult reports Evaluate's recall/latency comparison against
// brute-force search on the same store (spec §4.4 "Evaluate").
type EvalResult struct {
	MeanRecall    float64
	MeanLatencyMs float64
}

// Evaluate runs each of queries through both ix and a brute-force scan,
// reporting mean recall@k and mean IVF search latency.
func (ix *Index) Evaluate(store *vectorstore.Store, queries [][]float32, k int) (EvalResult, error) {
	if len(queries) == 0 {
		return EvalResult{}, nil
	}

	bf := bruteforce.New()

	var totalRecall float64

	var totalLatency time.Duration

	for _, q := range queries {
		truth, err := bf.Search(store, q, k, nil, ann.SearchControl{})
		if err != nil {
			return EvalResult{}, err
		}

		start := time.Now()

		got, err := ix.Search(store, q, k, nil, ann.SearchControl{})
		if err != nil {
			return EvalResult{}, err
		}

		totalLatency += time.Since(start)

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

		if len(truth) > 0 {
			totalRecall += float64(hits) / float64(len(truth))
		} else {
			totalRecall += 1
		}
	}

	n := float64(len(queries))

	return EvalResult{
		MeanRecall:    totalRecall / n,
		MeanLatencyMs: float64(totalLatency.Milliseconds()) / n,
	}, nil
}

type serialHeader struct {
	NList         uint32
	NProbe        uint32
	CentroidCount uint32
	Dim           uint32
}

// Serialize writes the fixed 16-byte header, length-prefixed JSON posting
// lists (as ids), and raw little-endian centroid floats (spec §4.4
// "Serialization").
func (ix *Index) Serialize(store *vectorstore.Store) ([]byte, error) {
	idLists := make([][]uint32, len(ix.lists))

	for i, rows := range ix.lists {
		ids := make([]uint32, 0, len(rows))

		for _, row := range rows {
			if row < store.Count() {
				ids = append(ids, store.IDAt(row))
			}
		}

		idLists[i] = ids
	}

	listsJSON, err := json.Marshal(idLists)
	if err != nil {
		return nil, fmt.Errorf("ivf: encode posting lists: %w", err)
	}

	w := codec.NewWriter(16 + len(listsJSON) + len(ix.centroids)*4)
	w.U32(uint32(ix.params.NList))
	w.U32(uint32(ix.params.NProbe))
	w.U32(uint32(ix.centroidCount))
	w.U32(uint32(ix.dim))
	w.Block(listsJSON)
	w.F32Slice(ix.centroids)

	return w.Bytes(), nil
}

// Deserialize reconstructs an Index from bytes written by Serialize,
// resizing the centroid buffer to dim*nlist if the store's current
// dimension differs from the serialized one.
func Deserialize(buf []byte, store *vectorstore.Store) (*Index, error) {
	r := codec.NewReader(buf)

	nlist, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("ivf: read nlist: %w", err)
	}

	nprobe, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("ivf: read nprobe: %w", err)
	}

	centroidCount, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("ivf: read centroidCount: %w", err)
	}

	serializedDim, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("ivf: read dim: %w", err)
	}

	listsJSON, err := r.Block()
	if err != nil {
		return nil, fmt.Errorf("ivf: read posting lists: %w", err)
	}

	var idLists [][]uint32
	if err := json.Unmarshal(listsJSON, &idLists); err != nil {
		return nil, fmt.Errorf("%w: ivf posting lists: %v", errs.ErrFormatError, err)
	}

	dim := store.Dim()

	centroids, err := r.F32Slice(int(serializedDim) * int(nlist))
	if err != nil {
		return nil, fmt.Errorf("ivf: read centroids: %w", err)
	}

	ix := New(dim, Params{NList: int(nlist), NProbe: int(nprobe)})
	ix.centroidCount = int(centroidCount)

	if int(serializedDim) == dim {
		copy(ix.centroids, centroids)
	}
	// else: dim changed since serialization; centroids start zeroed and
	// must be retrained via Train before the index is useful.

	ix.ensureRowCapacity(store.Count() - 1)

	for cluster, ids := range idLists {
		if cluster >= len(ix.lists) {
			break
		}

		for _, id := range ids {
			row, ok := store.RowOf(id)
			if !ok {
				continue
			}

			ix.lists[cluster] = append(ix.lists[cluster], row)
			ix.rowToList[row] = cluster
		}
	}

	return ix, nil
}

// Stats reports posting-list size distribution for internal/maintenance
// (spec §7: "IVF posting-list size histogram").
type Stats struct {
	NList      int
	NProbe     int
	ListSizes  []int
	Imbalance  float64 // max list size / mean list size, 0 when empty
}

func (ix *Index) Stats() Stats {
	sizes := make([]int, len(ix.lists))

	total := 0
	max := 0

	for i, l := range ix.lists {
		sizes[i] = len(l)
		total += len(l)

		if len(l) > max {
			max = len(l)
		}
	}

	var imbalance float64

	if total > 0 {
		mean := float64(total) / float64(len(ix.lists))
		if mean > 0 {
			imbalance = float64(max) / mean
		}
	}

	return Stats{
		NList:     ix.params.NList,
		NProbe:    ix.params.NProbe,
		ListSizes: sizes,
		Imbalance: imbalance,
	}
}
