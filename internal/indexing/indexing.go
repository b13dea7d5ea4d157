// Package indexing orchestrates save/open/rebuild against a persisted
// `<base>` state (spec §4.10): segment → catalog → manifest → index file
// → HEAD on save, and index → manifest(+HEAD) → data → ANN on open, with
// a fallback to a full data rescan when no index file exists. Grounded on
// the teacher's pkg/slotcache/open.go (the single place the teacher
// sequences "read header, decide to rebuild or load, rehydrate state")
// generalized from one on-disk cache file to vela's index+manifest+HEAD+
// data-segment layout spread across pluggable blob stores.
package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/blobstore"
	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/coordination"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/format"
	"github.com/velodb/vela/internal/obs"
	"github.com/velodb/vela/internal/placement"
	"github.com/velodb/vela/internal/vectorstore"
	"github.com/velodb/vela/internal/vstate"
)

// StrategyFactory builds a fresh, empty strategy of kind, closing over
// whatever construction-time parameters (HNSW's M/efConstruction, IVF's
// nlist/nprobe) the caller has configured. internal/ann strategies live
// in separate subpackages with no common constructor, so indexing never
// imports bruteforce/hnsw/ivf directly — the caller supplies this.
type StrategyFactory func(kind ann.StrategyKind) (ann.Strategy, error)

// StrategyDeserializer decodes a strategy's serialized auxiliary state
// (ann.Strategy.Serialize's output) back into a live strategy bound to
// store.
type StrategyDeserializer func(kind ann.StrategyKind, buf []byte, store *vectorstore.Store) (ann.Strategy, error)

// Options configures one Manager instance (spec §4.10).
type Options struct {
	// Base is the path prefix every persisted document is named from:
	// "<base>.catalog.json", "<base>.manifest.json", "<base>.head.json",
	// "<base>.index", and "<base>.pg<N>.part<M>" data segments.
	Base string

	// IndexStore holds the catalog, manifest, HEAD, and index file.
	IndexStore blobstore.Store

	// DataStores maps a CRUSH target key to the blob store data segments
	// for that target live in.
	DataStores map[string]blobstore.Store

	Crush        placement.Config
	Segmented    bool
	SegmentBytes int

	// IncludeANN embeds the strategy's serialized auxiliary state in the
	// index file on save, so Open can skip rebuilding it from scratch.
	IncludeANN bool

	// IgnoreHead, if true, always selects the default
	// "<base>.manifest.json" rather than consulting HEAD for a
	// bounded-staleness pick (spec §4.10 "Open" step 2 negated; default
	// false means HEAD is consulted, matching the spec's default).
	IgnoreHead bool

	// NoRebuildANN, if true, disables rebuilding ANN auxiliary state from
	// the restored store when the index file carries no embedded ANN
	// bytes (default false means rebuild happens, matching spec §4.10
	// "Open" step 5's "rebuildIfNeeded ≠ false" default).
	NoRebuildANN bool

	// EpsilonMs bounds staleness: Open computes readTs = clock.now() -
	// epsilonMs, and Save commit-waits until clock.now() > commitTs +
	// epsilonMs when > 0.
	EpsilonMs int64

	// CommitDelta is δ in commitTs = max(prepareTs, lastCommittedTs+δ,
	// clock.now()). Defaults to coordination.DefaultCommitDelta.
	CommitDelta int64

	Clock coordination.Clock

	NewStrategy         StrategyFactory
	DeserializeStrategy StrategyDeserializer
	Logger              *obs.Logger
}

// WithDefaults fills in sane defaults for zero-valued fields, in the
// style of the teacher's config.go validation functions.
func (o Options) WithDefaults() Options {
	if o.Clock == nil {
		o.Clock = coordination.SystemClock{}
	}

	if o.CommitDelta == 0 {
		o.CommitDelta = coordination.DefaultCommitDelta
	}

	if o.SegmentBytes == 0 {
		o.SegmentBytes = 4 << 20
	}

	return o
}

func (o Options) logger() obs.Logger {
	if o.Logger != nil {
		return *o.Logger
	}

	return obs.Nop()
}

// Manager orchestrates save/open/rebuild against a single `<base>` state
// (spec §4.10 "Indexing manager").
type Manager struct {
	opts Options

	lastCommittedTs int64
	epoch           uint64
}

// New returns a Manager for opts (WithDefaults is applied automatically).
func New(opts Options) *Manager {
	return &Manager{opts: opts.WithDefaults()}
}

func (m *Manager) catalogPath() string  { return m.opts.Base + ".catalog.json" }
func (m *Manager) manifestPath() string { return m.opts.Base + ".manifest.json" }
func (m *Manager) headPath() string     { return m.opts.Base + ".head.json" }
func (m *Manager) indexPath() string    { return m.opts.Base + ".index" }

// SaveResult reports the manifest/HEAD state a Save produced.
type SaveResult struct {
	Epoch    uint64
	CommitTs int64
	Manifest format.Manifest
}

// Save persists state's rows and ANN auxiliary state, then atomically
// flips HEAD to the new snapshot (spec §4.10 "Save"). Callers must hold
// the single-writer lock for the duration of the call.
func (m *Manager) Save(ctx context.Context, state *vstate.State) (SaveResult, error) {
	log := m.opts.logger().Component("indexing")
	prepareTs := m.opts.Clock.Now()

	store := state.Store
	count := store.Count()

	seg := placement.NewSegmenter(m.opts.Crush, m.opts.Base, m.opts.Segmented, m.opts.SegmentBytes)

	for row := 0; row < count; row++ {
		vec := store.VectorAt(row)

		seg.Add(format.DataRow{
			ID:     store.IDAt(row),
			Meta:   store.MetaAt(row),
			Vector: append([]float32(nil), vec...),
		})
	}

	segResult, err := seg.Flush(ctx, m.opts.DataStores)
	if err != nil {
		return SaveResult{}, fmt.Errorf("indexing: save: segmenting: %w", err)
	}

	catalog := format.Catalog{
		Version:      1,
		Dim:          uint32(store.Dim()),
		MetricCode:   codec.EncodeMetric(store.Metric()),
		StrategyCode: encodeKind(state.Strategy.Kind()),
	}

	if err := m.writeJSON(ctx, m.catalogPath(), catalog); err != nil {
		return SaveResult{}, fmt.Errorf("indexing: save: writing catalog: %w", err)
	}

	m.epoch++
	epoch := m.epoch

	commitTs := coordination.CommitTimestamp(prepareTs, m.lastCommittedTs, m.opts.Clock, m.opts.CommitDelta)

	manifestSegs := make([]format.SegmentRef, len(segResult.Manifest))
	for i, ref := range segResult.Manifest {
		manifestSegs[i] = format.SegmentRef{Name: ref.Name, TargetKey: ref.TargetKey}
	}

	manifest := format.Manifest{
		Base:     m.opts.Base,
		Segments: manifestSegs,
		Crush:    m.opts.Crush,
		Epoch:    epoch,
		CommitTs: commitTs,
	}

	if err := m.writeJSON(ctx, m.manifestPath(), manifest); err != nil {
		return SaveResult{}, fmt.Errorf("indexing: save: writing manifest: %w", err)
	}

	var annBytes []byte

	if m.opts.IncludeANN {
		annBytes, err = state.Strategy.Serialize(store)
		if err != nil {
			return SaveResult{}, fmt.Errorf("indexing: save: serializing ann: %w", err)
		}
	}

	entries := make([]format.IndexEntry, 0, count)

	for row := 0; row < count; row++ {
		id := store.IDAt(row)
		pointer := segResult.Pointers[id]

		entries = append(entries, format.IndexEntry{
			ID:      id,
			Segment: pointer.Segment,
			Offset:  pointer.Offset,
			Length:  pointer.Length,
		})
	}

	indexFile := format.IndexFile{
		MetricCode:   catalog.MetricCode,
		Dim:          catalog.Dim,
		Count:        uint32(count),
		StrategyCode: catalog.StrategyCode,
		ANN:          annBytes,
		Entries:      entries,
	}

	if err := m.opts.IndexStore.AtomicWrite(ctx, m.indexPath(), format.EncodeIndexFile(indexFile)); err != nil {
		return SaveResult{}, fmt.Errorf("indexing: save: writing index file: %w", err)
	}

	head := format.Head{Manifest: m.manifestPath(), Epoch: epoch, CommitTs: commitTs}

	if err := m.writeJSON(ctx, m.headPath(), head); err != nil {
		return SaveResult{}, fmt.Errorf("indexing: save: writing head: %w", err)
	}

	m.lastCommittedTs = commitTs

	if m.opts.EpsilonMs > 0 {
		coordination.CommitWait(m.opts.Clock, commitTs, m.opts.EpsilonMs, time.Sleep)
	}

	log.Debug().Uint64("epoch", epoch).Int64("commitTs", commitTs).Int("rows", count).Msg("save complete")

	return SaveResult{Epoch: epoch, CommitTs: commitTs, Manifest: manifest}, nil
}

// OpenResult reports provenance for the state Open returned.
type OpenResult struct {
	ManifestPath string
	UsedHead     bool
	Rebuilt      bool
}

// Open reconstructs a VectorState from a persisted index file, the
// manifest it (or HEAD) selects, and the data segments the manifest (or a
// CRUSH fallback) resolves (spec §4.10 "Open"). If no index file exists,
// it falls through to RebuildFromData.
func (m *Manager) Open(ctx context.Context) (*vstate.State, OpenResult, error) {
	log := m.opts.logger().Component("indexing")

	buf, err := m.opts.IndexStore.Read(ctx, m.indexPath())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			log.Debug().Msg("index file absent, rebuilding from data")

			state, rerr := m.RebuildFromData(ctx)

			return state, OpenResult{Rebuilt: true}, rerr
		}

		return nil, OpenResult{}, fmt.Errorf("indexing: open: reading index: %w", err)
	}

	idx, err := format.DecodeIndexFile(buf)
	if err != nil {
		return nil, OpenResult{}, fmt.Errorf("indexing: open: %w", err)
	}

	metric, err := codec.DecodeMetric(idx.MetricCode)
	if err != nil {
		return nil, OpenResult{}, fmt.Errorf("indexing: open: %w", err)
	}

	kind, err := decodeKind(idx.StrategyCode)
	if err != nil {
		return nil, OpenResult{}, fmt.Errorf("indexing: open: %w", err)
	}

	store := vectorstore.New(int(idx.Dim), metric, int(idx.Count))

	strategy, err := m.opts.NewStrategy(kind)
	if err != nil {
		return nil, OpenResult{}, fmt.Errorf("indexing: open: building strategy: %w", err)
	}

	manifestPath, usedHead, err := m.selectManifest(ctx)
	if err != nil {
		return nil, OpenResult{}, err
	}

	manifestBuf, err := m.opts.IndexStore.Read(ctx, manifestPath)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, OpenResult{}, fmt.Errorf("%w: manifest %q", errs.ErrMissingState, manifestPath)
		}

		return nil, OpenResult{}, fmt.Errorf("indexing: open: reading manifest: %w", err)
	}

	var manifest format.Manifest
	if err := json.Unmarshal(manifestBuf, &manifest); err != nil {
		return nil, OpenResult{}, fmt.Errorf("%w: manifest: %w", errs.ErrFormatError, err)
	}

	targetByName := make(map[string]string, len(manifest.Segments))
	for _, seg := range manifest.Segments {
		targetByName[seg.Name] = seg.TargetKey
	}

	segCache := make(map[string]map[uint32]format.DataRow)

	for _, entry := range idx.Entries {
		row, err := m.readRow(ctx, entry, targetByName, segCache)
		if err != nil {
			return nil, OpenResult{}, err
		}

		if _, err := store.InsertOrUpdate(entry.ID, row.Vector, true); err != nil {
			return nil, OpenResult{}, fmt.Errorf("indexing: open: restoring id %d: %w", entry.ID, err)
		}

		if len(row.Meta) > 0 {
			store.UpdateMeta(entry.ID, row.Meta)
		}
	}

	if len(idx.ANN) > 0 {
		strategy, err = m.opts.DeserializeStrategy(kind, idx.ANN, store)
		if err != nil {
			return nil, OpenResult{}, fmt.Errorf("indexing: open: deserializing ann: %w", err)
		}
	} else if !m.opts.NoRebuildANN {
		if err := rebuildStrategyFromStore(strategy, store); err != nil {
			return nil, OpenResult{}, fmt.Errorf("indexing: open: %w", err)
		}
	}

	return vstate.New(store, strategy), OpenResult{ManifestPath: manifestPath, UsedHead: usedHead}, nil
}

// selectManifest implements spec §4.10 "Open" step 2: consult HEAD for a
// bounded-staleness pick unless IgnoreHead is set or HEAD is missing/not
// yet readable at readTs, in which case the default manifest path wins.
func (m *Manager) selectManifest(ctx context.Context) (path string, usedHead bool, err error) {
	if m.opts.IgnoreHead {
		return m.manifestPath(), false, nil
	}

	headBuf, err := m.opts.IndexStore.Read(ctx, m.headPath())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return m.manifestPath(), false, nil
		}

		return "", false, fmt.Errorf("indexing: open: reading head: %w", err)
	}

	var head format.Head
	if err := json.Unmarshal(headBuf, &head); err != nil {
		return "", false, fmt.Errorf("%w: head: %w", errs.ErrFormatError, err)
	}

	readTs := m.opts.Clock.Now() - m.opts.EpsilonMs

	if coordination.HeadReadable(head.CommitTs, readTs) {
		return head.Manifest, true, nil
	}

	return m.manifestPath(), false, nil
}

// readRow resolves entry's segment to a data store (via the manifest, or
// a CRUSH fallback when the segment isn't listed), decodes the segment
// once per distinct name, and returns entry's row out of it.
func (m *Manager) readRow(ctx context.Context, entry format.IndexEntry, targetByName map[string]string, cache map[string]map[uint32]format.DataRow) (format.DataRow, error) {
	rows, ok := cache[entry.Segment]
	if !ok {
		store, err := m.resolveDataStore(entry, targetByName)
		if err != nil {
			return format.DataRow{}, err
		}

		buf, err := store.Read(ctx, entry.Segment)
		if err != nil {
			return format.DataRow{}, fmt.Errorf("%w: segment %q: %w", errs.ErrMissingSegment, entry.Segment, err)
		}

		decoded, err := format.DecodeDataSegment(buf)
		if err != nil {
			return format.DataRow{}, fmt.Errorf("indexing: open: decoding segment %q: %w", entry.Segment, err)
		}

		rows = make(map[uint32]format.DataRow, len(decoded))
		for _, row := range decoded {
			rows[row.ID] = row
		}

		cache[entry.Segment] = rows
	}

	row, ok := rows[entry.ID]
	if !ok {
		return format.DataRow{}, fmt.Errorf("%w: id %d not present in segment %q", errs.ErrMissingSegment, entry.ID, entry.Segment)
	}

	return row, nil
}

func (m *Manager) resolveDataStore(entry format.IndexEntry, targetByName map[string]string) (blobstore.Store, error) {
	targetKey, ok := targetByName[entry.Segment]
	if !ok {
		targetKey = placement.Locate(entry.ID, m.opts.Crush).Primaries[0]
	}

	store, ok := m.opts.DataStores[targetKey]
	if !ok {
		return nil, fmt.Errorf("%w: no data store for target %q", errs.ErrMissingSegment, targetKey)
	}

	return store, nil
}

// RebuildFromData reconstructs a VectorState straight from the catalog
// and manifest, bypassing the index file entirely: every segment the
// manifest names is fully scanned and appended to a fresh store, with ANN
// auxiliary state built incrementally as rows are restored (spec §4.10
// "Rebuild from data").
func (m *Manager) RebuildFromData(ctx context.Context) (*vstate.State, error) {
	catalogBuf, err := m.opts.IndexStore.Read(ctx, m.catalogPath())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: catalog", errs.ErrMissingState)
		}

		return nil, fmt.Errorf("indexing: rebuild: reading catalog: %w", err)
	}

	var catalog format.Catalog
	if err := json.Unmarshal(catalogBuf, &catalog); err != nil {
		return nil, fmt.Errorf("%w: catalog: %w", errs.ErrFormatError, err)
	}

	manifestBuf, err := m.opts.IndexStore.Read(ctx, m.manifestPath())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: manifest", errs.ErrMissingState)
		}

		return nil, fmt.Errorf("indexing: rebuild: reading manifest: %w", err)
	}

	var manifest format.Manifest
	if err := json.Unmarshal(manifestBuf, &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", errs.ErrFormatError, err)
	}

	metric, err := codec.DecodeMetric(catalog.MetricCode)
	if err != nil {
		return nil, fmt.Errorf("indexing: rebuild: %w", err)
	}

	kind, err := decodeKind(catalog.StrategyCode)
	if err != nil {
		return nil, fmt.Errorf("indexing: rebuild: %w", err)
	}

	store := vectorstore.New(int(catalog.Dim), metric, 1)

	strategy, err := m.opts.NewStrategy(kind)
	if err != nil {
		return nil, fmt.Errorf("indexing: rebuild: building strategy: %w", err)
	}

	for _, seg := range manifest.Segments {
		dataStore, ok := m.opts.DataStores[seg.TargetKey]
		if !ok {
			return nil, fmt.Errorf("%w: no data store for target %q", errs.ErrMissingSegment, seg.TargetKey)
		}

		buf, err := dataStore.Read(ctx, seg.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q: %w", errs.ErrMissingSegment, seg.Name, err)
		}

		rows, err := format.DecodeDataSegment(buf)
		if err != nil {
			return nil, fmt.Errorf("indexing: rebuild: decoding segment %q: %w", seg.Name, err)
		}

		for _, row := range rows {
			res, err := store.InsertOrUpdate(row.ID, row.Vector, true)
			if err != nil {
				return nil, fmt.Errorf("indexing: rebuild: restoring id %d: %w", row.ID, err)
			}

			if len(row.Meta) > 0 {
				store.UpdateMeta(row.ID, row.Meta)
			}

			if err := strategy.OnInsert(store, res.Row, res.Created); err != nil {
				return nil, fmt.Errorf("indexing: rebuild: indexing id %d: %w", row.ID, err)
			}
		}
	}

	return vstate.New(store, strategy), nil
}

func rebuildStrategyFromStore(strategy ann.Strategy, store *vectorstore.Store) error {
	for row := 0; row < store.Count(); row++ {
		if err := strategy.OnInsert(store, row, true); err != nil {
			return fmt.Errorf("rebuilding ann at row %d: %w", row, err)
		}
	}

	return nil
}

func (m *Manager) writeJSON(ctx context.Context, path string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", path, err)
	}

	return m.opts.IndexStore.AtomicWrite(ctx, path, buf)
}

// encodeKind/decodeKind convert between ann.StrategyKind and
// internal/codec.Strategy, which share the same ordinal values
// (bruteforce=0, hnsw=1, ivf=2) but live in separate packages to keep
// internal/ann dependency-light (spec §4.8 "Enum codes are bijective").
func encodeKind(kind ann.StrategyKind) uint32 {
	return codec.EncodeStrategy(codec.Strategy(kind))
}

func decodeKind(code uint32) (ann.StrategyKind, error) {
	s, err := codec.DecodeStrategy(code)
	if err != nil {
		return 0, err
	}

	return ann.StrategyKind(s), nil
}
