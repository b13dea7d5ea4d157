// Package vela is an embeddable vector database: fixed-dimension dense
// float32 vectors keyed by uint32 ids, opaque per-id metadata, and
// approximate top-K search under cosine/dot/negated-L2, backed by a
// pluggable strategy (brute-force, HNSW, IVF) and persisted across
// pluggable blob stores with a write-ahead log for crash recovery.
//
// A Client composes the in-memory VectorState with a WAL runtime, an
// autosave debouncer, and an indexing manager; every write path appends
// to the WAL before mutating the store, and Save flushes the store to
// the persisted index+data+manifest+HEAD layout under the single-writer
// lock. Package internal/indexing, internal/wal, and internal/vstate
// document the on-disk formats and replay/rebuild semantics this facade
// wires together.
package vela
