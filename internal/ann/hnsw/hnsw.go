// Package hnsw implements the HNSW ANN strategy (spec §4.3): a multi-layer
// proximity graph with tombstone-based deletion. Graph state is indexed by
// store row, not id, mirroring the teacher's preference for dense
// row-indexed arrays over pointer-chasing maps (pkg/slotcache/slotcache.go
// uses the same row-dense style for its bucket arrays).
package hnsw

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/vectorstore"
)

const epsilon = 1e-12

// Params configures graph construction and search (spec §4.3).
type Params struct {
	M                   int
	EfConstruction      int
	EfSearch            int
	LevelMult           float64
	Seed                int64
	AllowReplaceDeleted bool
}

// DefaultParams returns the spec's documented defaults (M=16,
// efConstruction=200, efSearch=50, levelMult=1/ln(M), seed=42).
func DefaultParams() Params {
	const m = 16

	return Params{
		M:              m,
		EfConstruction: 200,
		EfSearch:       50,
		LevelMult:      1 / math.Log(m),
		Seed:           42,
	}
}

// Graph is the HNSW strategy state: per-row level and tombstone flags plus
// per-layer adjacency, all indexed by store row.
type Graph struct {
	params Params
	rng    *ann.XorShift32

	entryPoint int // -1 when empty
	maxLevel   int

	levels    []uint8
	tombstone []bool
	layers    [][][]uint32 // layers[layer][row] -> sorted (ascending) neighbor rows
}

// New returns an empty Graph.
func New(params Params) *Graph {
	return &Graph{
		params:     params,
		rng:        ann.NewXorShift32(params.Seed),
		entryPoint: -1,
		maxLevel:   0,
	}
}

func (g *Graph) Kind() ann.StrategyKind { return ann.KindHNSW }

// Params returns the parameters the graph was constructed with, so
// maintenance operations (compact-rebuild, parameter tuning) can build a
// fresh graph with the same shape (spec §4.3 "Compact-rebuild").
func (g *Graph) Params() Params { return g.params }

// EntryPoint returns the current entry row, or -1 if the graph is empty.
func (g *Graph) EntryPoint() int { return g.entryPoint }

// MaxLevel returns the highest level assigned to any row in the graph.
func (g *Graph) MaxLevel() int { return g.maxLevel }

// IsTombstoned reports whether row has been logically removed.
func (g *Graph) IsTombstoned(row int) bool {
	if row < 0 || row >= len(g.tombstone) {
		return false
	}

	return g.tombstone[row]
}

// LevelOf returns the level sampled for row.
func (g *Graph) LevelOf(row int) int {
	if row < 0 || row >= len(g.levels) {
		return 0
	}

	return int(g.levels[row])
}

func (g *Graph) growTo(n int) {
	if n <= len(g.levels) {
		return
	}

	levels := make([]uint8, n)
	copy(levels, g.levels)
	g.levels = levels

	tombstone := make([]bool, n)
	copy(tombstone, g.tombstone)
	g.tombstone = tombstone

	for l := range g.layers {
		row := make([][]uint32, n)
		copy(row, g.layers[l])
		g.layers[l] = row
	}
}

func (g *Graph) ensureLayers(upTo int) {
	for len(g.layers) <= upTo {
		g.layers = append(g.layers, make([][]uint32, len(g.levels)))
	}
}

func (g *Graph) neighborsAt(layer, row int) []uint32 {
	if layer >= len(g.layers) || row >= len(g.layers[layer]) {
		return nil
	}

	return g.layers[layer][row]
}

func (g *Graph) sampleLevel() int {
	u := g.rng.Float64()
	if u < epsilon {
		u = epsilon
	}

	return int(math.Floor(-math.Log(u) * g.params.LevelMult))
}

func scoreRow(store *vectorstore.Store, query []float32, row int) float32 {
	return vecmath.ScoreAt(store.Metric(), store.VectorBuffer(), row, store.Dim(), query)
}

// OnInsert assigns a level to newly created rows and wires them into the
// graph per spec §4.3. Updates to an existing row (created=false) leave
// graph topology untouched: the vector content changed in place, but
// rewiring neighbors on every update would make insert cost unbounded for
// write-heavy workloads, so callers wanting updated adjacency should
// remove and re-insert.
func (g *Graph) OnInsert(store *vectorstore.Store, row int, created bool) error {
	if !created {
		return nil
	}

	level := g.sampleLevel()

	g.growTo(row + 1)
	g.ensureLayers(level)
	g.levels[row] = uint8(level)

	if g.entryPoint < 0 {
		g.entryPoint = row
		g.maxLevel = level

		return nil
	}

	query := store.VectorAt(row)
	current := g.entryPoint

	for layer := g.maxLevel; layer > level; layer-- {
		current = g.greedyClimb(store, query, layer, current)
	}

	start := level
	if g.maxLevel < start {
		start = g.maxLevel
	}

	for layer := start; layer >= 0; layer-- {
		candidates := g.beamSearch(store, query, layer, []int{current}, g.params.EfConstruction, row)

		connected := 0
		for _, c := range candidates {
			if connected >= g.params.M {
				break
			}

			g.connectMutual(layer, row, c.row)
			connected++
		}

		if len(candidates) > 0 {
			current = candidates[0].row
		}
	}

	if level > g.maxLevel {
		g.entryPoint = row
		g.maxLevel = level
	}

	return nil
}

// OnRemove tombstones row; adjacency is left intact (spec §4.3).
func (g *Graph) OnRemove(_ *vectorstore.Store, row int) {
	g.growTo(row + 1)
	g.tombstone[row] = true
}

// OnRowMoved relocates row from's per-row state to to, and repoints every
// neighbor reference to from so the graph stays consistent after the
// store's swap-remove compaction.
func (g *Graph) OnRowMoved(from, to int) {
	if from == to {
		return
	}

	max := from
	if to > max {
		max = to
	}

	g.growTo(max + 1)

	g.levels[to] = g.levels[from]
	g.tombstone[to] = g.tombstone[from]

	if g.entryPoint == from {
		g.entryPoint = to
	}

	for l := range g.layers {
		neighbors := g.layers[l][from]
		g.layers[l][to] = neighbors
		g.layers[l][from] = nil

		for _, n := range neighbors {
			g.replaceNeighbor(l, int(n), uint32(from), uint32(to))
		}
	}

	g.levels[from] = 0
	g.tombstone[from] = false
}

func (g *Graph) replaceNeighbor(layer, row int, oldID, newID uint32) {
	if layer >= len(g.layers) || row >= len(g.layers[layer]) {
		return
	}

	list := g.layers[layer][row]
	out := make([]uint32, 0, len(list))

	for _, n := range list {
		if n == oldID {
			continue
		}

		out = append(out, n)
	}

	g.layers[layer][row] = insertSortedUint32(out, newID)
}

func insertSortedUint32(list []uint32, v uint32) []uint32 {
	i := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if i < len(list) && list[i] == v {
		return list
	}

	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v

	return list
}

func (g *Graph) addNeighbor(layer, row, neighbor int) {
	g.layers[layer][row] = insertSortedUint32(g.layers[layer][row], uint32(neighbor))
}

// trim keeps the M smallest-by-row-index neighbors, per spec's stable
// trimming rule.
func (g *Graph) trim(layer, row int) {
	list := g.layers[layer][row]
	if len(list) <= g.params.M {
		return
	}

	g.layers[layer][row] = append([]uint32(nil), list[:g.params.M]...)
}

func (g *Graph) connectMutual(layer, a, b int) {
	g.addNeighbor(layer, a, b)
	g.addNeighbor(layer, b, a)
	g.trim(layer, a)
	g.trim(layer, b)
}

func (g *Graph) greedyClimb(store *vectorstore.Store, query []float32, layer, start int) int {
	current := start
	currentScore := scoreRow(store, query, current)

	for {
		improved := false

		for _, n := range g.neighborsAt(layer, current) {
			row := int(n)
			if g.IsTombstoned(row) {
				continue
			}

			s := scoreRow(store, query, row)
			if s > currentScore {
				currentScore = s
				current = row
				improved = true
			}
		}

		if !improved {
			break
		}
	}

	return current
}

type candidate struct {
	row   int
	score float32
}

// beamSearch runs a bounded best-first search at layer from entryPoints,
// returning up to ef candidates sorted by score descending. excludeRow, if
// >= 0, is never added to the result (used during insert so a row never
// neighbors itself).
func (g *Graph) beamSearch(store *vectorstore.Store, query []float32, layer int, entryPoints []int, ef, excludeRow int) []candidate {
	visited := make(map[int]bool)

	var frontier []candidate

	var results []candidate

	consider := func(row int) {
		if visited[row] {
			return
		}

		visited[row] = true

		if g.IsTombstoned(row) || row == excludeRow {
			return
		}

		score := scoreRow(store, query, row)
		frontier = append(frontier, candidate{row, score})
		results = insertCandidate(results, candidate{row, score}, ef)
	}

	for _, ep := range entryPoints {
		consider(ep)
	}

	for len(frontier) > 0 {
		maxIdx := 0
		for i := 1; i < len(frontier); i++ {
			if frontier[i].score > frontier[maxIdx].score {
				maxIdx = i
			}
		}

		c := frontier[maxIdx]
		frontier = append(frontier[:maxIdx], frontier[maxIdx+1:]...)

		if len(results) >= ef && c.score < results[len(results)-1].score {
			break
		}

		for _, n := range g.neighborsAt(layer, c.row) {
			consider(int(n))
		}
	}

	return results
}

func insertCandidate(results []candidate, c candidate, limit int) []candidate {
	i := sort.Search(len(results), func(i int) bool { return results[i].score < c.score })
	results = append(results, candidate{})
	copy(results[i+1:], results[i:])
	results[i] = c

	if len(results) > limit {
		results = results[:limit]
	}

	return results
}

// Search implements spec §4.3/§4.6.
func (g *Graph) Search(store *vectorstore.Store, query []float32, k int, pred ann.Predicate, control ann.SearchControl) ([]topk.Scored, error) {
	if len(query) != store.Dim() {
		return nil, fmt.Errorf("%w: got %d, want %d", errs.ErrDimMismatch, len(query), store.Dim())
	}

	if g.entryPoint < 0 || store.Count() == 0 {
		return nil, nil
	}

	if control.Candidates != nil && !control.SoftFilter {
		top := topk.NewHeap(k)

		for _, row := range control.Candidates.Rows() {
			if row >= store.Count() || g.IsTombstoned(row) {
				continue
			}

			if pred != nil && !pred(row) {
				continue
			}

			top.Add(store.IDAt(row), scoreRow(store, query, row))
		}

		return top.Items(), nil
	}

	effectivePred := pred
	if control.Candidates != nil {
		cs := control.Candidates
		effectivePred = func(row int) bool {
			if !cs.Contains(row) {
				return false
			}

			return pred == nil || pred(row)
		}
	}

	ef := control.EfSearch
	if ef <= 0 {
		ef = g.params.EfSearch
	}

	if ef < k {
		ef = k
	}

	current := g.entryPoint

	for layer := g.maxLevel; layer >= 1; layer-- {
		current = g.greedyClimb(store, query, layer, current)
	}

	candidates := g.beamSearch(store, query, 0, []int{current}, ef, -1)

	top := topk.NewHeap(k)

	for _, c := range candidates {
		if effectivePred != nil && !effectivePred(c.row) {
			continue
		}

		top.Add(store.IDAt(c.row), c.score)
	}

	return top.Items(), nil
}

// serialHeader is the JSON-encoded parameter/metadata block written ahead
// of the binary CSR adjacency (spec §4.3 "Serialization").
type serialHeader struct {
	M                   int
	EfConstruction      int
	EfSearch            int
	LevelMult           float64
	Seed                int64
	AllowReplaceDeleted bool
	EntryPoint          int
	MaxLevel            int
	LayerCount          int
}

// Serialize writes a JSON header, per-row level/tombstone byte arrays
// (trimmed to store.Count()), then each layer's CSR adjacency.
func (g *Graph) Serialize(store *vectorstore.Store) ([]byte, error) {
	count := store.Count()

	header := serialHeader{
		M:                   g.params.M,
		EfConstruction:      g.params.EfConstruction,
		EfSearch:            g.params.EfSearch,
		LevelMult:           g.params.LevelMult,
		Seed:                g.params.Seed,
		AllowReplaceDeleted: g.params.AllowReplaceDeleted,
		EntryPoint:          g.entryPoint,
		MaxLevel:            g.maxLevel,
		LayerCount:          len(g.layers),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("hnsw: encode header: %w", err)
	}

	w := codec.NewWriter(len(headerJSON) + count*2)
	w.Block(headerJSON)

	levels := make([]byte, count)
	tombstones := make([]byte, count)

	for row := 0; row < count; row++ {
		levels[row] = g.levelAt(row)
		if g.IsTombstoned(row) {
			tombstones[row] = 1
		}
	}

	w.Block(levels)
	w.Block(tombstones)

	for l := 0; l < len(g.layers); l++ {
		offsets := make([]uint32, count+1)

		var neighbors []uint32

		for row := 0; row < count; row++ {
			offsets[row] = uint32(len(neighbors))
			neighbors = append(neighbors, g.neighborsAt(l, row)...)
		}

		offsets[count] = uint32(len(neighbors))

		w.U32(uint32(len(offsets)))
		for _, o := range offsets {
			w.U32(o)
		}

		w.U32(uint32(len(neighbors)))
		for _, n := range neighbors {
			w.U32(n)
		}
	}

	return w.Bytes(), nil
}

func (g *Graph) levelAt(row int) byte {
	if row >= len(g.levels) {
		return 0
	}

	return byte(g.levels[row])
}

// Deserialize reconstructs a Graph from bytes written by Serialize. store
// must already hold the rows the graph indexes (in the same row order).
func Deserialize(buf []byte, store *vectorstore.Store) (*Graph, error) {
	r := codec.NewReader(buf)

	headerJSON, err := r.Block()
	if err != nil {
		return nil, fmt.Errorf("hnsw: read header: %w", err)
	}

	var header serialHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: hnsw header: %v", errs.ErrFormatError, err)
	}

	levels, err := r.Block()
	if err != nil {
		return nil, fmt.Errorf("hnsw: read levels: %w", err)
	}

	tombstones, err := r.Block()
	if err != nil {
		return nil, fmt.Errorf("hnsw: read tombstones: %w", err)
	}

	count := store.Count()

	g := New(Params{
		M:                   header.M,
		EfConstruction:      header.EfConstruction,
		EfSearch:            header.EfSearch,
		LevelMult:           header.LevelMult,
		Seed:                header.Seed,
		AllowReplaceDeleted: header.AllowReplaceDeleted,
	})
	g.entryPoint = header.EntryPoint
	g.maxLevel = header.MaxLevel

	g.growTo(count)

	for row := 0; row < count && row < len(levels); row++ {
		g.levels[row] = levels[row]
	}

	for row := 0; row < count && row < len(tombstones); row++ {
		g.tombstone[row] = tombstones[row] != 0
	}

	for l := 0; l < header.LayerCount; l++ {
		offsetCount, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("hnsw: read layer %d offsets length: %w", l, err)
		}

		offsets := make([]uint32, offsetCount)
		for i := range offsets {
			offsets[i], err = r.U32()
			if err != nil {
				return nil, fmt.Errorf("hnsw: read layer %d offset %d: %w", l, i, err)
			}
		}

		neighborCount, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("hnsw: read layer %d neighbor count: %w", l, err)
		}

		neighbors := make([]uint32, neighborCount)
		for i := range neighbors {
			neighbors[i], err = r.U32()
			if err != nil {
				return nil, fmt.Errorf("hnsw: read layer %d neighbor %d: %w", l, i, err)
			}
		}

		g.ensureLayers(l)

		rows := int(offsetCount) - 1
		for row := 0; row < rows && row < count; row++ {
			g.layers[l][row] = append([]uint32(nil), neighbors[offsets[row]:offsets[row+1]]...)
		}
	}

	return g, nil
}

// LiveRows returns the store rows in [0, store.Count()) that are not
// tombstoned, in ascending row order. Used by maintenance's compact-rebuild
// (spec §4.3 "Compact-rebuild").
func (g *Graph) LiveRows(store *vectorstore.Store) []int {
	out := make([]int, 0, store.Count())

	for row := 0; row < store.Count(); row++ {
		if !g.IsTombstoned(row) {
			out = append(out, row)
		}
	}

	return out
}

// Stats reports graph-shape diagnostics for internal/maintenance (spec
// §7: "HNSW levels/avg-degree/tombstone-ratio").
type Stats struct {
	MaxLevel        int
	TombstoneRatio  float64
	AverageDegreeL0 float64
}

func (g *Graph) Stats(store *vectorstore.Store) Stats {
	count := store.Count()
	if count == 0 {
		return Stats{}
	}

	tombstoned := 0
	degreeSum := 0

	for row := 0; row < count; row++ {
		if g.IsTombstoned(row) {
			tombstoned++
		}

		degreeSum += len(g.neighborsAt(0, row))
	}

	return Stats{
		MaxLevel:        g.maxLevel,
		TombstoneRatio:  float64(tombstoned) / float64(count),
		AverageDegreeL0: float64(degreeSum) / float64(count),
	}
}
