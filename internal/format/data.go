// Package format implements the on-disk binary layouts (spec §4.8): the
// VLDT data segment, the VLIX index file, and the JSON manifest/HEAD/
// catalog documents. Layouts follow the teacher's hand-rolled
// header-then-records style (pkg/slotcache/format.go), built on
// internal/codec's Writer/Reader.
package format

import (
	"fmt"

	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
)

const (
	dataMagic   = "VLDT"
	dataVersion = uint32(1)
)

// DataRow is one persisted (id, meta, vector) triple within a data
// segment.
type DataRow struct {
	ID     uint32
	Meta   []byte
	Vector []float32
}

// EncodeDataSegment renders rows as one VLDT segment: 8-byte header (MAGIC
// + VERSION) followed by rows in insertion order (spec §4.8 "Data
// segment"). A segment is written atomically and is immutable once
// written.
func EncodeDataSegment(rows []DataRow) []byte {
	w := codec.NewWriter(8 + 32*len(rows))
	w.Raw([]byte(dataMagic))
	w.U32(dataVersion)

	for _, row := range rows {
		w.U32(row.ID)
		w.U32(uint32(len(row.Meta)))
		w.U32(uint32(len(row.Vector)))
		w.Raw(row.Meta)
		w.F32Slice(row.Vector)
	}

	return w.Bytes()
}

// DecodeDataSegment parses a VLDT segment back into its rows.
func DecodeDataSegment(buf []byte) ([]DataRow, error) {
	r := codec.NewReader(buf)

	if err := r.Magic(dataMagic); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	ver, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if ver != dataVersion {
		return nil, fmt.Errorf("%w: unsupported data segment version %d", errs.ErrFormatError, ver)
	}

	var rows []DataRow

	for r.Remaining() > 0 {
		id, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		metaLen, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		vecLen, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		meta, err := r.Raw(int(metaLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		vec, err := r.F32Slice(int(vecLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		row := DataRow{ID: id}
		if len(meta) > 0 {
			row.Meta = append([]byte(nil), meta...)
		}

		if len(vec) > 0 {
			row.Vector = vec
		}

		rows = append(rows, row)
	}

	return rows, nil
}
