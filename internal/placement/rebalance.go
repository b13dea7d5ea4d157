package placement

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/velodb/vela/internal/blobstore"
)

// Move describes a segment whose target changes under a new CRUSH
// topology (spec §4.9 "Rebalance": "plan... emits a list of moves {name,
// from, to}").
type Move struct {
	Name string
	From string
	To   string
}

var pgPattern = regexp.MustCompile(`\.pg(\d+)\.`)

// pgFromName extracts the placement group encoded in a segment name of
// the form "<base>.pg<N>.part<M>".
func pgFromName(name string) (int, bool) {
	m := pgPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}

	pg, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return pg, true
}

// Plan inspects each segment's encoded pg and computes its desired target
// under newCrush, emitting a move for every segment whose target changes.
func Plan(manifest []SegmentRef, newCrush Config) []Move {
	var moves []Move

	for _, seg := range manifest {
		pg, ok := pgFromName(seg.Name)
		if !ok {
			continue
		}

		desired := targetKeyForPG(pg, newCrush)
		if desired != seg.TargetKey {
			moves = append(moves, Move{Name: seg.Name, From: seg.TargetKey, To: desired})
		}
	}

	return moves
}

// ApplyOptions controls Apply's post-copy verification and cleanup.
type ApplyOptions struct {
	Verify  bool
	Cleanup bool
}

// Apply executes moves: for each, reads the segment's raw bytes from its
// "from" store, writes them atomically to the "to" store, optionally
// verifies byte-length equality by re-reading, optionally deletes the
// source, then returns the manifest with every moved segment's target
// updated (spec §4.9 "apply").
func Apply(ctx context.Context, manifest []SegmentRef, moves []Move, stores map[string]blobstore.Store, opts ApplyOptions) ([]SegmentRef, error) {
	newTargets := make(map[string]string, len(moves))
	for _, mv := range moves {
		newTargets[mv.Name] = mv.To
	}

	for _, mv := range moves {
		fromStore, ok := stores[mv.From]
		if !ok {
			return nil, fmt.Errorf("placement: no data store for source target %q", mv.From)
		}

		toStore, ok := stores[mv.To]
		if !ok {
			return nil, fmt.Errorf("placement: no data store for destination target %q", mv.To)
		}

		data, err := fromStore.Read(ctx, mv.Name)
		if err != nil {
			return nil, fmt.Errorf("placement: reading %q from %q: %w", mv.Name, mv.From, err)
		}

		if err := toStore.AtomicWrite(ctx, mv.Name, data); err != nil {
			return nil, fmt.Errorf("placement: writing %q to %q: %w", mv.Name, mv.To, err)
		}

		if opts.Verify {
			written, err := toStore.Read(ctx, mv.Name)
			if err != nil {
				return nil, fmt.Errorf("placement: verifying %q on %q: %w", mv.Name, mv.To, err)
			}

			if len(written) != len(data) {
				return nil, fmt.Errorf("placement: verify failed for %q: wrote %d bytes, read back %d", mv.Name, len(data), len(written))
			}
		}

		if opts.Cleanup {
			if err := fromStore.Delete(ctx, mv.Name); err != nil {
				return nil, fmt.Errorf("placement: cleaning up %q on %q: %w", mv.Name, mv.From, err)
			}
		}
	}

	updated := make([]SegmentRef, len(manifest))

	for i, seg := range manifest {
		if to, ok := newTargets[seg.Name]; ok {
			seg.TargetKey = to
		}

		updated[i] = seg
	}

	return updated, nil
}
