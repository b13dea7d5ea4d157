package placement

import (
	"context"
	"fmt"

	"github.com/velodb/vela/internal/blobstore"
	"github.com/velodb/vela/internal/format"
)

// EntryPointer locates a row within a named data segment, the shape the
// index file's entries carry (spec §4.8 "Index file" / §4.9 "Segmenter").
type EntryPointer struct {
	Segment string
	Offset  uint32
	Length  uint32
}

const dataHeaderSize = 8 // MAGIC + VERSION, matches format.EncodeDataSegment

func encodedRowSize(row format.DataRow) int {
	return 4 + 4 + 4 + len(row.Meta) + 4*len(row.Vector)
}

// completedPart is a part whose rows are finalized pending Flush.
type completedPart struct {
	part int
	rows []format.DataRow
}

type pgWriter struct {
	base      string
	pg        int
	part      int
	rows      []format.DataRow
	sizeBytes int // including the 8-byte header
	completed []completedPart
}

func newPgWriter(base string, pg int) *pgWriter {
	return &pgWriter{base: base, pg: pg, sizeBytes: dataHeaderSize}
}

func (w *pgWriter) segmentNameForPart(part int) string {
	return fmt.Sprintf("%s.pg%d.part%d", w.base, w.pg, part)
}

func (w *pgWriter) segmentName() string {
	return w.segmentNameForPart(w.part)
}

func (w *pgWriter) rotate() {
	w.completed = append(w.completed, completedPart{part: w.part, rows: w.rows})
	w.part++
	w.rows = nil
	w.sizeBytes = dataHeaderSize
}

// Segmenter groups rows by placement group, writing one data segment per
// group (optionally rotated by size) to the target each group resolves to
// under cfg (spec §4.9 "Segmenter").
type Segmenter struct {
	cfg          Config
	base         string
	segmented    bool
	segmentBytes int
	writers      map[int]*pgWriter
	pointers     map[uint32]EntryPointer
}

// NewSegmenter builds a Segmenter. segmentBytes is only consulted when
// segmented is true; segmented=false keeps one ever-growing part per pg.
func NewSegmenter(cfg Config, base string, segmented bool, segmentBytes int) *Segmenter {
	return &Segmenter{
		cfg:          cfg,
		base:         base,
		segmented:    segmented,
		segmentBytes: segmentBytes,
		writers:      make(map[int]*pgWriter),
		pointers:     make(map[uint32]EntryPointer),
	}
}

// Add assigns row to its placement group's current part, rotating to a
// new part first if segmented and the accumulated size would exceed
// segmentBytes (spec §4.9: "when segmented is set and the accumulated
// byte size... exceeds segmentBytes, rotates to part<N+1>").
func (s *Segmenter) Add(row format.DataRow) {
	pg := pgOf(row.ID, s.cfg.Pgs)

	w, ok := s.writers[pg]
	if !ok {
		w = newPgWriter(s.base, pg)
		s.writers[pg] = w
	}

	rowSize := encodedRowSize(row)

	if s.segmented && len(w.rows) > 0 && w.sizeBytes+rowSize > s.segmentBytes {
		w.rotate()
	}

	offset := uint32(w.sizeBytes)
	w.rows = append(w.rows, row)
	w.sizeBytes += rowSize

	s.pointers[row.ID] = EntryPointer{
		Segment: w.segmentName(),
		Offset:  offset,
		Length:  uint32(rowSize),
	}
}

// Result is what Flush produces: per-id entry pointers and the manifest
// describing where each written segment now lives.
type Result struct {
	Pointers map[uint32]EntryPointer
	Manifest []SegmentRef
}

// SegmentRef names a written segment and the target key its data store
// lives under.
type SegmentRef struct {
	Name      string
	TargetKey string
}

// Flush writes every pending part atomically to the data store its
// placement group resolves to under cfg, via stores (targetKey→Store),
// and returns the pointer/manifest result.
func (s *Segmenter) Flush(ctx context.Context, stores map[string]blobstore.Store) (Result, error) {
	result := Result{Pointers: s.pointers}

	for pg, w := range s.writers {
		targetKey := targetKeyForPG(pg, s.cfg)

		store, ok := stores[targetKey]
		if !ok && (len(w.rows) > 0 || len(w.completed) > 0) {
			return Result{}, fmt.Errorf("placement: no data store for target %q", targetKey)
		}

		parts := append(append([]completedPart{}, w.completed...), completedPart{part: w.part, rows: w.rows})

		for _, part := range parts {
			if len(part.rows) == 0 {
				continue
			}

			buf := format.EncodeDataSegment(part.rows)
			name := w.segmentNameForPart(part.part)

			if err := store.AtomicWrite(ctx, name, buf); err != nil {
				return Result{}, fmt.Errorf("placement: writing segment %q: %w", name, err)
			}

			result.Manifest = append(result.Manifest, SegmentRef{Name: name, TargetKey: targetKey})
		}
	}

	return result, nil
}
