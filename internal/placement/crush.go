// Package placement implements CRUSH-style deterministic data placement
// (spec §4.9): id→placement-group→target hashing, a row segmenter that
// partitions writes by group with optional size-based rotation, and a
// rebalance planner/applier for re-targeting segments after a topology
// change. Grounded on spec's placement algebra directly; hashing uses
// github.com/cespare/xxhash/v2, the fast non-cryptographic hash the wider
// example pack reaches for where the teacher itself has no placement
// layer to imitate.
package placement

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// multiplier is the deterministic per-pg target-selection constant (spec
// §4.9 "idx = (pg · 2654435761) mod |targets|").
const multiplier = 2654435761

// Target is one placement destination: a key identifying its backing
// store, plus weight/zone accepted for forward compatibility (spec §4.9:
// "this core implements single-replica placement, ignores weight/zone
// ordering beyond equal-weight round-robin").
type Target struct {
	Key    string
	Weight float64
	Zone   string
}

// Config is a CRUSH topology snapshot: the placement-group count and the
// ordered target list.
type Config struct {
	Pgs     int
	Targets []Target
}

// Location is the result of placing an id: its placement group and
// primary target key(s).
type Location struct {
	PG        int
	Primaries []string
}

// pgOf hashes id into [0, cfg.Pgs).
func pgOf(id uint32, pgs int) int {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)

	return int(xxhash.Sum64(buf[:]) % uint64(pgs))
}

// targetIndex deterministically maps a placement group to a target-list
// index (spec §4.9 "Locate").
func targetIndex(pg, numTargets int) int {
	return int((uint64(pg) * multiplier) % uint64(numTargets))
}

// Locate maps id to its placement group and primary target under cfg.
func Locate(id uint32, cfg Config) Location {
	pg := pgOf(id, cfg.Pgs)

	return Location{PG: pg, Primaries: []string{targetKeyForPG(pg, cfg)}}
}

// targetKeyForPG resolves a placement group to its target key, independent
// of any particular id — used directly by rebalance planning, which only
// knows a segment's encoded pg, not the ids within it.
func targetKeyForPG(pg int, cfg Config) string {
	idx := targetIndex(pg, len(cfg.Targets))

	return cfg.Targets[idx].Key
}
