package vela

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/bruteforce"
	"github.com/velodb/vela/internal/ann/hnsw"
	"github.com/velodb/vela/internal/ann/ivf"
	"github.com/velodb/vela/internal/autosave"
	"github.com/velodb/vela/internal/blobstore/memblob"
	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/coordination"
	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/format/legacy"
	"github.com/velodb/vela/internal/indexing"
	"github.com/velodb/vela/internal/obs"
	"github.com/velodb/vela/internal/vectorstore"
	"github.com/velodb/vela/internal/vstate"
	"github.com/velodb/vela/internal/wal"
)

// Options configures a Client, in the style of the teacher's config.go
// validation functions: a plain struct with a WithDefaults() normalizer
// rather than a file-based loader (out of scope for an embeddable core).
type Options struct {
	// Dim is the fixed vector dimension. Required for New; Open and
	// OpenLegacy read it back from persisted state instead.
	Dim    int
	Metric Metric

	// Strategy selects the ANN strategy a fresh store is indexed with.
	// Zero value is KindBruteForce.
	Strategy StrategyKind
	HNSW     HNSWParams
	IVF      IVFParams

	// Capacity is the initial row-capacity hint for a fresh store.
	Capacity int

	// Base is the path prefix every persisted document is named from
	// (see internal/indexing.Options.Base). Defaults to "vela".
	Base string

	// IndexStore holds the catalog, manifest, HEAD, index file, and WAL.
	// Defaults to an in-memory store; embedding applications that want
	// durability across process restarts must supply their own.
	IndexStore BlobStore

	// DataStores maps a CRUSH target key to the blob store its data
	// segments live in. Any target named in Crush without an entry here
	// defaults to IndexStore.
	DataStores map[string]BlobStore

	Crush        PlacementConfig
	Segmented    bool
	SegmentBytes int
	IncludeANN   bool
	IgnoreHead   bool
	NoRebuildANN bool
	EpsilonMs    int64
	CommitDelta  int64
	Clock        Clock

	// WALPath defaults to "<Base>.wal" within IndexStore.
	WALPath string
	// NoWALFooter disables the optional WCRC+CRC32 trailer (default
	// false keeps it enabled, matching the spec's documented default).
	NoWALFooter bool

	// Autosave is the debounce/op-count policy driving Save-and-
	// truncate-WAL. The zero value disables autosave entirely (both
	// thresholds zero); callers must invoke Save explicitly.
	Autosave autosave.Policy

	// AttrIndex, if set, backs filter preselection against an external
	// attribute index. AttrIndex is consulted by Search; nil means
	// every ScopeAttrs leaf falls back to a full predicate scan.
	AttrIndex AttrIndexReader
	// Attrs resolves ScopeAttrs leaf values at predicate-evaluation
	// time. nil means ScopeAttrs leaves never match.
	Attrs AttrProvider

	Logger *Logger
}

// WithDefaults fills in sane defaults for zero-valued fields.
func (o Options) WithDefaults() Options {
	if o.Base == "" {
		o.Base = "vela"
	}

	if o.Capacity <= 0 {
		o.Capacity = 16
	}

	if o.IndexStore == nil {
		o.IndexStore = memblob.New()
	}

	if len(o.Crush.Targets) == 0 {
		o.Crush = PlacementConfig{Pgs: 1, Targets: []PlacementTarget{{Key: "default"}}}
	}

	if o.DataStores == nil {
		o.DataStores = make(map[string]BlobStore, len(o.Crush.Targets))
	}

	for _, t := range o.Crush.Targets {
		if _, ok := o.DataStores[t.Key]; !ok {
			o.DataStores[t.Key] = o.IndexStore
		}
	}

	if o.Clock == nil {
		o.Clock = coordination.SystemClock{}
	}

	if o.CommitDelta == 0 {
		o.CommitDelta = coordination.DefaultCommitDelta
	}

	if o.SegmentBytes == 0 {
		o.SegmentBytes = 4 << 20
	}

	if o.WALPath == "" {
		o.WALPath = o.Base + ".wal"
	}

	if o.Logger == nil {
		nop := obs.Nop()
		o.Logger = &nop
	}

	return o
}

func (o Options) logger() Logger {
	if o.Logger != nil {
		return *o.Logger
	}

	return obs.Nop()
}

// newStrategy builds a fresh, empty strategy of kind from opts'
// construction-time params.
func newStrategy(opts Options, kind StrategyKind) (ann.Strategy, error) {
	switch kind {
	case KindBruteForce:
		return bruteforce.New(), nil
	case KindHNSW:
		params := opts.HNSW
		if params == (HNSWParams{}) {
			params = hnsw.DefaultParams()
		}

		return hnsw.New(params), nil
	case KindIVF:
		return ivf.New(opts.Dim, opts.IVF), nil
	default:
		return nil, fmt.Errorf("vela: unknown strategy kind %d", kind)
	}
}

func deserializeStrategy(kind StrategyKind, buf []byte, store *vectorstore.Store) (ann.Strategy, error) {
	switch kind {
	case KindBruteForce:
		return bruteforce.Deserialize(buf)
	case KindHNSW:
		return hnsw.Deserialize(buf, store)
	case KindIVF:
		return ivf.Deserialize(buf, store)
	default:
		return nil, fmt.Errorf("vela: unknown strategy kind %d", kind)
	}
}

func buildManager(opts Options) *indexing.Manager {
	log := opts.logger()

	return indexing.New(indexing.Options{
		Base:         opts.Base,
		IndexStore:   opts.IndexStore,
		DataStores:   opts.DataStores,
		Crush:        opts.Crush,
		Segmented:    opts.Segmented,
		SegmentBytes: opts.SegmentBytes,
		IncludeANN:   opts.IncludeANN,
		IgnoreHead:   opts.IgnoreHead,
		NoRebuildANN: opts.NoRebuildANN,
		EpsilonMs:    opts.EpsilonMs,
		CommitDelta:  opts.CommitDelta,
		Clock:        opts.Clock,
		NewStrategy: func(kind StrategyKind) (ann.Strategy, error) {
			return newStrategy(opts, kind)
		},
		DeserializeStrategy: deserializeStrategy,
		Logger:              &log,
	})
}

// Client is the facade composing a VectorState with a WAL runtime, an
// autosave debouncer, and an indexing manager (spec §2 "System overview").
// Every write path appends to the WAL before mutating the store; Save
// flushes the store to the persisted index+data+manifest+HEAD layout.
// All exported methods are safe for concurrent use: writes serialize on
// an internal RWMutex (spec §5's "reader/writer lock around the store"
// for truly multi-threaded runtimes), and additionally run inside
// coordination.WriteLock.RunExclusive to match the documented
// run_exclusive write-path contract.
type Client struct {
	opts Options

	mu        sync.RWMutex
	state     *vstate.State
	wal       *wal.Runtime
	writeLock *coordination.WriteLock
	manager   *indexing.Manager
	autosave  *autosave.Debouncer

	closed atomic.Bool
}

func newClientWithManager(opts Options, state *vstate.State, manager *indexing.Manager) *Client {
	log := opts.logger()

	walRuntime := wal.New(opts.IndexStore, opts.WALPath, wal.WithFooter(!opts.NoWALFooter), wal.WithLogger(log))

	c := &Client{
		opts:      opts,
		state:     state,
		wal:       walRuntime,
		writeLock: &coordination.WriteLock{},
		manager:   manager,
	}

	c.autosave = autosave.New(opts.Autosave, c.flush)

	return c
}

// New constructs a Client around a fresh, empty store — no persisted
// state is consulted. Dim must be positive.
func New(opts Options) (*Client, error) {
	opts = opts.WithDefaults()

	if opts.Dim <= 0 {
		return nil, fmt.Errorf("vela: new: dim must be positive, got %d", opts.Dim)
	}

	strategy, err := newStrategy(opts, opts.Strategy)
	if err != nil {
		return nil, err
	}

	store := vectorstore.New(opts.Dim, opts.Metric, opts.Capacity)
	state := vstate.New(store, strategy)

	return newClientWithManager(opts, state, buildManager(opts)), nil
}

// Open reconstructs a Client from persisted state under opts.Base (spec
// §4.10 "Open"), falling back to a fresh empty store if no catalog/
// manifest exists yet (ErrMissingState), then replays any WAL records
// appended since the last Save.
func Open(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.WithDefaults()

	manager := buildManager(opts)

	state, _, err := manager.Open(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrMissingState) {
			return nil, fmt.Errorf("vela: open: %w", err)
		}

		if opts.Dim <= 0 {
			return nil, fmt.Errorf("vela: open: no persisted state and dim must be positive, got %d", opts.Dim)
		}

		strategy, serr := newStrategy(opts, opts.Strategy)
		if serr != nil {
			return nil, serr
		}

		state = vstate.New(vectorstore.New(opts.Dim, opts.Metric, opts.Capacity), strategy)
	}

	c := newClientWithManager(opts, state, manager)

	if _, err := c.wal.ReplayInto(ctx, c.state); err != nil {
		return nil, fmt.Errorf("vela: open: replaying wal: %w", err)
	}

	return c, nil
}

func (c *Client) checkClosed() error {
	if c.closed.Load() {
		return ErrClosed
	}

	return nil
}

// flush is the autosave onFlush callback: Save, then truncate the WAL,
// guarded by the single-writer lock (spec §4.12 "on fire... perform
// save-and-truncate-WAL"). Runs with the debouncer's internal lock
// released, so it may safely run concurrently with RecordOp.
func (c *Client) flush() {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		if _, err := c.manager.Save(ctx, c.state); err != nil {
			return err
		}

		return c.wal.Truncate(ctx)
	})
	if err != nil {
		c.opts.logger().Component("autosave").Warn().Err(err).Msg("autosave flush failed")
	}
}

// Upsert writes id/vector (and, if non-nil, meta) to the WAL and then the
// store, under the single-writer lock (spec §4.1/§4.7). upsert=false
// rejects an existing id with ErrDuplicate.
func (c *Client) Upsert(ctx context.Context, id uint32, vector []float32, meta []byte, upsert bool) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		records := []wal.Record{{Op: wal.OpUpsert, ID: id, Vector: vector}}
		if meta != nil {
			records = append(records, wal.Record{Op: wal.OpSetMeta, ID: id, Meta: meta})
		}

		if err := c.wal.Append(ctx, records); err != nil {
			return fmt.Errorf("vela: upsert: %w", err)
		}

		if err := c.state.Upsert(id, vector, upsert); err != nil {
			return fmt.Errorf("vela: upsert: %w", err)
		}

		if meta != nil {
			c.state.SetMeta(id, meta)
		}

		c.autosave.RecordOp()

		return nil
	})
}

// Remove deletes id, returning false if it was absent. Absent removes
// still append a (harmless, idempotent-on-replay) WAL record: the store
// check and the WAL append must happen under the same exclusive section
// to keep WAL order matching applied order (spec §4.11).
func (c *Client) Remove(ctx context.Context, id uint32) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed bool

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		if err := c.wal.Append(ctx, []wal.Record{{Op: wal.OpRemove, ID: id}}); err != nil {
			return fmt.Errorf("vela: remove: %w", err)
		}

		ok, err := c.state.Remove(id)
		if err != nil {
			return fmt.Errorf("vela: remove: %w", err)
		}

		removed = ok
		if ok {
			c.autosave.RecordOp()
		}

		return nil
	})

	return removed, err
}

// SetMeta replaces id's meta payload, returning false if id is absent.
func (c *Client) SetMeta(ctx context.Context, id uint32, meta []byte) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var ok bool

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		if err := c.wal.Append(ctx, []wal.Record{{Op: wal.OpSetMeta, ID: id, Meta: meta}}); err != nil {
			return fmt.Errorf("vela: setMeta: %w", err)
		}

		ok = c.state.SetMeta(id, meta)
		if ok {
			c.autosave.RecordOp()
		}

		return nil
	})

	return ok, err
}

// Get returns the vector and meta stored for id.
func (c *Client) Get(id uint32) (vector []float32, meta []byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state.Get(id)
}

// Count returns the current number of live rows.
func (c *Client) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state.Store.Count()
}

// rowContext adapts a Client's store plus an optional AttrProvider to
// filter.RowContext, resolving meta-scope leaves by lazily decoding each
// row's opaque meta bytes as a JSON object (the reference meta encoding,
// spec §4.7/§6).
type rowContext struct {
	store     *vectorstore.Store
	attrs     AttrProvider
	metaCache map[int]map[string]any
}

func (r *rowContext) IDAt(row int) uint32 { return r.store.IDAt(row) }

func (r *rowContext) MetaValue(row int, key string) (any, bool) {
	m, ok := r.decodedMeta(row)
	if !ok {
		return nil, false
	}

	v, ok := m[key]

	return v, ok
}

func (r *rowContext) decodedMeta(row int) (map[string]any, bool) {
	if r.metaCache == nil {
		r.metaCache = make(map[int]map[string]any)
	}

	if m, cached := r.metaCache[row]; cached {
		return m, m != nil
	}

	raw := r.store.MetaAt(row)
	if len(raw) == 0 {
		r.metaCache[row] = nil

		return nil, false
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		r.metaCache[row] = nil

		return nil, false
	}

	r.metaCache[row] = m

	return m, true
}

func (r *rowContext) AttrValue(row int, key string) (any, bool) {
	if r.attrs == nil {
		return nil, false
	}

	return r.attrs.AttrValue(r.store.IDAt(row), key)
}

// Search combines the compiled predicate for expr with the bound strategy
// (spec §4.6 "Search with expression"): a nil expr always passes. If
// control.Candidates is unset and expr narrows via Options.AttrIndex
// preselection, the preselected rows are installed as control.Candidates
// before dispatch — brute-force and HNSW hard-filter score only those
// rows; HNSW soft-filter mode (control.SoftFilter) traverses the graph
// biased toward them instead. Rejects query whose length isn't Dim with
// ErrDimMismatch.
func (c *Client) Search(query []float32, k int, expr *Expr, control SearchControl) ([]Scored, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pred := Compile(expr)
	ctx := &rowContext{store: c.state.Store, attrs: c.opts.Attrs}

	annPred := func(row int) bool { return pred(ctx, row) }

	if control.Candidates == nil && expr != nil {
		if ids := Preselect(expr, c.opts.AttrIndex); ids != nil {
			rows := make([]int, 0, ids.Len())

			for _, id := range ids.Ids() {
				if row, ok := c.state.Store.RowOf(id); ok {
					rows = append(rows, row)
				}
			}

			control.Candidates = NewCandidateSet(rows)
		}
	}

	return c.state.Search(query, k, annPred, control)
}

// BulkMode selects BulkUpsert/BulkRemove's partial-failure behavior.
type BulkMode int

const (
	// BestEffort applies every item independently, collecting failures
	// into the returned []ItemError instead of aborting (the default).
	BestEffort BulkMode = iota
	// AllOrNothing aborts and returns the first error encountered,
	// leaving any items before it already applied (no multi-key
	// transactional rollback — spec §4.17 Non-goals).
	AllOrNothing
)

// ItemError reports one bulk item's failure.
type ItemError struct {
	ID     uint32
	Reason string
}

// UpsertItem is one BulkUpsert entry.
type UpsertItem struct {
	ID     uint32
	Vector []float32
	Meta   []byte
	Upsert bool
}

// BulkUpsert applies items under a single exclusive section, honoring
// mode (spec §4.16 "Bulk operations with partial-failure accounting").
func (c *Client) BulkUpsert(ctx context.Context, items []UpsertItem, mode BulkMode) ([]ItemError, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var failures []ItemError

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		for _, item := range items {
			if ferr := c.applyUpsert(ctx, item); ferr != nil {
				if mode == AllOrNothing {
					return ferr
				}

				failures = append(failures, ItemError{ID: item.ID, Reason: ferr.Error()})

				continue
			}

			c.autosave.RecordOp()
		}

		return nil
	})

	return failures, err
}

func (c *Client) applyUpsert(ctx context.Context, item UpsertItem) error {
	records := []wal.Record{{Op: wal.OpUpsert, ID: item.ID, Vector: item.Vector}}
	if item.Meta != nil {
		records = append(records, wal.Record{Op: wal.OpSetMeta, ID: item.ID, Meta: item.Meta})
	}

	if err := c.wal.Append(ctx, records); err != nil {
		return err
	}

	if err := c.state.Upsert(item.ID, item.Vector, item.Upsert); err != nil {
		return err
	}

	if item.Meta != nil {
		c.state.SetMeta(item.ID, item.Meta)
	}

	return nil
}

// BulkRemove removes ids under a single exclusive section, honoring mode.
func (c *Client) BulkRemove(ctx context.Context, ids []uint32, mode BulkMode) ([]ItemError, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var failures []ItemError

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			if err := c.wal.Append(ctx, []wal.Record{{Op: wal.OpRemove, ID: id}}); err != nil {
				if mode == AllOrNothing {
					return err
				}

				failures = append(failures, ItemError{ID: id, Reason: err.Error()})

				continue
			}

			ok, err := c.state.Remove(id)
			if err != nil {
				if mode == AllOrNothing {
					return err
				}

				failures = append(failures, ItemError{ID: id, Reason: err.Error()})

				continue
			}

			if ok {
				c.autosave.RecordOp()
			}
		}

		return nil
	})

	return failures, err
}

// Save persists the store and truncates the WAL (spec §4.10 "Save" +
// §4.12's save-and-truncate-WAL), under the single-writer lock.
func (c *Client) Save(ctx context.Context) (indexing.SaveResult, error) {
	if err := c.checkClosed(); err != nil {
		return indexing.SaveResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var result indexing.SaveResult

	err := c.writeLock.RunExclusive(ctx, func(ctx context.Context) error {
		res, err := c.manager.Save(ctx, c.state)
		if err != nil {
			return err
		}

		result = res

		return c.wal.Truncate(ctx)
	})

	return result, err
}

// Verify checks the WAL's structural integrity and per-segment CRC32
// footers without touching the in-memory store (spec §4.7 "Verify").
// Safe to call alongside reads; takes the read lock only.
func (c *Client) Verify(ctx context.Context) (VerifyResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.wal.Verify(ctx)
}

// Close disposes the autosave debouncer (flushing any pending ops
// best-effort) and then marks the Client closed; subsequent Upsert,
// Remove, SetMeta, BulkUpsert, BulkRemove and Save calls return
// ErrClosed, while Get, Count, Search, Verify and SaveLegacy keep serving
// the in-memory state. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}

	// Dispose runs the flush callback, which does nothing once closed is
	// set, so the flag is raised only after it returns.
	c.autosave.Dispose()
	c.closed.Store(true)

	return nil
}

// SaveLegacy dumps the current store as a single VLIT file at path within
// store (spec §4.16 "Legacy single-file snapshot"). version must be
// legacy.Version1 or legacy.Version2; only Version2 carries meta and
// embedded ANN bytes. Restricted to {cosine, l2}: MetricDot is rejected.
func (c *Client) SaveLegacy(ctx context.Context, store BlobStore, path string, version uint32) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metricCode := codec.EncodeMetric(c.state.Store.Metric())
	if metricCode != 0 && metricCode != 1 {
		return fmt.Errorf("%w: legacy format does not support the dot metric", ErrUnknownCode)
	}

	count := c.state.Store.Count()
	rows := make([]legacy.Row, count)

	for row := 0; row < count; row++ {
		rows[row] = legacy.Row{
			ID:     c.state.Store.IDAt(row),
			Vector: append([]float32(nil), c.state.Store.VectorAt(row)...),
		}

		if version == legacy.Version2 {
			rows[row].Meta = c.state.Store.MetaAt(row)
		}
	}

	snap := legacy.Snapshot{
		Version:    version,
		MetricCode: metricCode,
		Dim:        uint32(c.state.Store.Dim()),
		Rows:       rows,
	}

	if version == legacy.Version2 {
		annBytes, err := c.state.Strategy.Serialize(c.state.Store)
		if err != nil {
			return fmt.Errorf("vela: saveLegacy: serializing ann: %w", err)
		}

		snap.ANN = annBytes
	}

	buf, err := legacy.Encode(snap)
	if err != nil {
		return fmt.Errorf("vela: saveLegacy: %w", err)
	}

	return store.AtomicWrite(ctx, path, buf)
}

// OpenLegacy reconstructs a Client from a single VLIT file at path within
// store (spec §4.16). Since the legacy format carries no strategy code,
// opts.Strategy (and opts.HNSW/opts.IVF, if applicable) select which
// strategy to build and, for Version2 snapshots with embedded ANN bytes,
// which deserializer to use.
func OpenLegacy(ctx context.Context, store BlobStore, path string, opts Options) (*Client, error) {
	opts = opts.WithDefaults()

	buf, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vela: openLegacy: %w", err)
	}

	snap, err := legacy.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("vela: openLegacy: %w", err)
	}

	metric, err := codec.DecodeMetric(snap.MetricCode)
	if err != nil {
		return nil, fmt.Errorf("vela: openLegacy: %w", err)
	}

	opts.Dim = int(snap.Dim)
	opts.Metric = metric

	vstore := vectorstore.New(opts.Dim, metric, max(len(snap.Rows), 1))

	strategy, err := newStrategy(opts, opts.Strategy)
	if err != nil {
		return nil, err
	}

	for _, row := range snap.Rows {
		res, err := vstore.InsertOrUpdate(row.ID, row.Vector, true)
		if err != nil {
			return nil, fmt.Errorf("vela: openLegacy: restoring id %d: %w", row.ID, err)
		}

		if len(row.Meta) > 0 {
			vstore.UpdateMeta(row.ID, row.Meta)
		}

		if err := strategy.OnInsert(vstore, res.Row, res.Created); err != nil {
			return nil, fmt.Errorf("vela: openLegacy: indexing id %d: %w", row.ID, err)
		}
	}

	if len(snap.ANN) > 0 {
		strategy, err = deserializeStrategy(opts.Strategy, snap.ANN, vstore)
		if err != nil {
			return nil, fmt.Errorf("vela: openLegacy: deserializing ann: %w", err)
		}
	}

	state := vstate.New(vstore, strategy)

	return newClientWithManager(opts, state, buildManager(opts)), nil
}
