// Package legacy implements the VLIT single-file snapshot format (spec
// §4.8/§6 "Binary constants"), a supplemental convenience format for
// callers that want one self-contained file instead of the separated
// index+data+manifest layout internal/format and internal/indexing use.
// Restricted to metric codes {cosine=0, l2=1} per spec.
package legacy

import (
	"fmt"

	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
)

const magic = "VLIT"

const (
	// Version1 stores id+vector rows only: no metadata, no embedded ANN
	// state. Smallest footprint, intended for read-only vector dumps.
	Version1 = uint32(1)
	// Version2 adds per-row opaque metadata and an optional embedded ANN
	// payload, bringing it to parity with the separated VLDT+VLIX layout
	// for single-file use cases.
	Version2 = uint32(2)
)

// Row is one snapshot entry. Meta and embedded ANN bytes are only
// meaningful under Version2; Version1 ignores Meta on encode.
type Row struct {
	ID     uint32
	Vector []float32
	Meta   []byte
}

// Snapshot is the decoded form of a VLIT file.
type Snapshot struct {
	Version    uint32
	MetricCode uint32 // restricted to {0: cosine, 1: l2}
	Dim        uint32
	Rows       []Row
	ANN        []byte // only set/read for Version2
}

func validMetric(code uint32) bool { return code == 0 || code == 1 }

// Encode renders snap as a VLIT file.
func Encode(snap Snapshot) ([]byte, error) {
	if snap.Version != Version1 && snap.Version != Version2 {
		return nil, fmt.Errorf("%w: unsupported legacy version %d", errs.ErrFormatError, snap.Version)
	}

	if !validMetric(snap.MetricCode) {
		return nil, fmt.Errorf("%w: legacy metric code %d", errs.ErrUnknownCode, snap.MetricCode)
	}

	w := codec.NewWriter(24 + 32*len(snap.Rows))
	w.Raw([]byte(magic))
	w.U32(snap.Version)
	w.U32(snap.MetricCode)
	w.U32(snap.Dim)
	w.U32(uint32(len(snap.Rows)))

	if snap.Version == Version2 {
		w.Block(snap.ANN)
	}

	for _, row := range snap.Rows {
		w.U32(row.ID)
		w.F32Slice(row.Vector)

		if snap.Version == Version2 {
			w.Block(row.Meta)
		}
	}

	return w.Bytes(), nil
}

// Decode parses a VLIT file back into a Snapshot.
func Decode(buf []byte) (Snapshot, error) {
	r := codec.NewReader(buf)

	if err := r.Magic(magic); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	var snap Snapshot

	ver, err := r.U32()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if ver != Version1 && ver != Version2 {
		return Snapshot{}, fmt.Errorf("%w: unsupported legacy version %d", errs.ErrFormatError, ver)
	}

	snap.Version = ver

	if snap.MetricCode, err = r.U32(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if !validMetric(snap.MetricCode) {
		return Snapshot{}, fmt.Errorf("%w: legacy metric code %d", errs.ErrUnknownCode, snap.MetricCode)
	}

	if snap.Dim, err = r.U32(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	count, err := r.U32()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if ver == Version2 {
		ann, err := r.Block()
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		if len(ann) > 0 {
			snap.ANN = append([]byte(nil), ann...)
		}
	}

	snap.Rows = make([]Row, count)

	for i := range snap.Rows {
		id, err := r.U32()
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		vec, err := r.F32Slice(int(snap.Dim))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		row := Row{ID: id, Vector: vec}

		if ver == Version2 {
			meta, err := r.Block()
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
			}

			if len(meta) > 0 {
				row.Meta = append([]byte(nil), meta...)
			}
		}

		snap.Rows[i] = row
	}

	return snap, nil
}
