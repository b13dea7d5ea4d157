package vela

import (
	"github.com/velodb/vela/internal/ann"
	"github.com/velodb/vela/internal/ann/hnsw"
	"github.com/velodb/vela/internal/ann/ivf"
	"github.com/velodb/vela/internal/blobstore"
	"github.com/velodb/vela/internal/coordination"
	"github.com/velodb/vela/internal/coordination/lease"
	"github.com/velodb/vela/internal/filter"
	"github.com/velodb/vela/internal/obs"
	"github.com/velodb/vela/internal/placement"
	"github.com/velodb/vela/internal/topk"
	"github.com/velodb/vela/internal/vecmath"
	"github.com/velodb/vela/internal/wal"
)

// Type aliases re-export the internal types a caller needs to build
// search/filter/configuration values, without exposing the internal
// packages themselves: Go's internal/ import restriction only blocks
// importing the internal package path directly, not using an exported
// alias through this public package.

type (
	// Metric selects the similarity function a store scores under.
	Metric = vecmath.Metric

	// StrategyKind selects which ANN strategy a Client indexes with.
	StrategyKind = ann.StrategyKind

	// HNSWParams configures the HNSW strategy (only meaningful when
	// Options.Strategy is KindHNSW).
	HNSWParams = hnsw.Params

	// IVFParams configures the IVF strategy (only meaningful when
	// Options.Strategy is KindIVF).
	IVFParams = ivf.Params

	// SearchControl carries per-call search knobs beyond a strategy's
	// construction-time defaults: ef/nprobe override, a candidate row
	// set, and HNSW soft-filter tuning.
	SearchControl = ann.SearchControl

	// SeedSelection controls how HNSW soft-filter mode picks graph
	// entry seeds from a candidate set.
	SeedSelection = ann.SeedSelection

	// CandidateSet is a preselected row set handed to Search to narrow
	// or bias candidate consideration.
	CandidateSet = ann.CandidateSet

	// Scored is one search hit: an id and its similarity score.
	Scored = topk.Scored

	// Expr is a filter expression tree compiled by Search into a
	// predicate over (id, meta, attrs).
	Expr = filter.Expr
	// Leaf is a single-field filter test.
	Leaf = filter.Leaf
	// Bool combines filter sub-expressions.
	Bool = filter.Bool
	// IDSet restricts a filter to an explicit id list.
	IDSet = filter.IDSet
	// RangeBounds are the optional numeric bounds a range leaf tests.
	RangeBounds = filter.RangeBounds
	// Scope selects which payload a Leaf reads from: attrs or meta.
	Scope = filter.Scope
	// AttrIndexReader is an external attribute index consulted during
	// filter preselection, supplied via Options.AttrIndex.
	AttrIndexReader = filter.AttrIndexReader
	// UintSet is a roaring-backed id set, the currency of preselection.
	UintSet = filter.UintSet
	// RowContext resolves field values for predicate evaluation over a
	// store row; Search supplies one backed by the Client's store plus
	// Options.Attrs. Exposed only for callers that want to test a
	// compiled expression directly via Compile.
	RowContext = filter.RowContext

	// Clock reports the current time in integer milliseconds, injected
	// for deterministic commit-timestamp/commit-wait behavior.
	Clock = coordination.Clock
	// SystemClock reads the real wall clock.
	SystemClock = coordination.SystemClock
	// FixedClock always reports the same instant.
	FixedClock = coordination.FixedClock
	// OffsetClock reports another clock's time shifted by a constant.
	OffsetClock = coordination.OffsetClock

	// LeaseProvider grants named, epoch-fenced leases with TTL expiry.
	// Not used internally by Client (which serializes writes with a
	// plain mutex); exported for embedding applications that want
	// advisory coordination across multiple in-process writers, e.g. a
	// maintenance job that must not run concurrently with a bulk load.
	LeaseProvider = lease.Provider
	// LeaseGrant is the result of a successful acquire/renew.
	LeaseGrant = lease.Grant

	// BlobStore is the injected blob-store capability a Client persists
	// through: read/write/append/atomicWrite/delete over named paths.
	// internal/blobstore/memblob and internal/blobstore/fsblob are
	// reference implementations; an embedding application may supply
	// any other implementation of this interface.
	BlobStore = blobstore.Store

	// PlacementConfig is a CRUSH topology snapshot: placement-group
	// count plus the ordered target list.
	PlacementConfig = placement.Config
	// PlacementTarget is one CRUSH placement destination.
	PlacementTarget = placement.Target

	// Logger wraps the structured logger a Client threads through WAL,
	// indexing, and maintenance operations. The zero value is a no-op
	// logger.
	Logger = obs.Logger

	// VerifyResult is the outcome of Client.Verify's structural+checksum
	// pass over the WAL.
	VerifyResult = wal.VerifyResult
)

const (
	MetricCosine = vecmath.MetricCosine
	MetricL2     = vecmath.MetricL2
	MetricDot    = vecmath.MetricDot
)

const (
	KindBruteForce = ann.KindBruteForce
	KindHNSW       = ann.KindHNSW
	KindIVF        = ann.KindIVF
)

const (
	SeedRandom  = ann.SeedRandom
	SeedTopFreq = ann.SeedTopFreq
)

const (
	ScopeAttrs = filter.ScopeAttrs
	ScopeMeta  = filter.ScopeMeta
)

// NewCandidateSet builds a CandidateSet from store row indices.
func NewCandidateSet(rows []int) *CandidateSet { return ann.NewCandidateSet(rows) }

// NewLeaseProvider returns a LeaseProvider driven by clock.
func NewLeaseProvider(clock Clock) *LeaseProvider { return lease.New(clock) }

// Compile turns expr into a filter.Predicate bound to a RowContext; Search
// calls this internally, exposed here only for callers that want to test
// a compiled expression directly.
func Compile(expr *Expr) func(ctx RowContext, row int) bool {
	return filter.Compile(expr)
}

// Preselect attempts to narrow expr to a finite id set using reader. A nil
// result means "no index support": the caller should fall back to a full
// predicate scan.
func Preselect(expr *Expr, reader AttrIndexReader) *UintSet {
	return filter.Preselect(expr, reader)
}

// AttrProvider resolves an attribute value for an id, backing Search's
// ScopeAttrs filter leaves. vela itself stores no attribute index; an
// embedding application supplies one (and, optionally, an AttrIndexReader
// for index-backed preselection via Options.AttrIndex).
type AttrProvider interface {
	AttrValue(id uint32, key string) (value any, ok bool)
}
