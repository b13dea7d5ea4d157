package format

import (
	"fmt"

	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
)

const (
	indexMagic   = "VLIX"
	indexVersion = uint32(1)

	flagHasANN = uint32(1)
)

// IndexEntry maps an id to its location within a data segment (spec §4.8
// "Index file").
type IndexEntry struct {
	ID      uint32
	Segment string
	Offset  uint32
	Length  uint32
}

// IndexFile is the decoded form of a VLIX file: header fields, optional
// embedded ANN bytes, and the id→segment-location entries.
type IndexFile struct {
	MetricCode   uint32
	Dim          uint32
	Count        uint32
	StrategyCode uint32
	ANN          []byte // nil unless the strategy's auxiliary state was embedded
	Entries      []IndexEntry
}

// EncodeIndexFile renders f as a VLIX file: 16-byte header (MAGIC,
// VERSION, 8 reserved bytes), the metric/dim/count/strategy/flags block,
// optional ANN payload, then entries (spec §4.8 "Index file").
func EncodeIndexFile(f IndexFile) []byte {
	w := codec.NewWriter(16 + 20 + len(f.ANN) + 32*len(f.Entries))
	w.Raw([]byte(indexMagic))
	w.U32(indexVersion)
	w.U64(0) // reserved, rounds the header to 16 bytes

	flags := uint32(0)
	if len(f.ANN) > 0 {
		flags |= flagHasANN
	}

	w.U32(f.MetricCode)
	w.U32(f.Dim)
	w.U32(f.Count)
	w.U32(f.StrategyCode)
	w.U32(flags)

	if flags&flagHasANN != 0 {
		w.Block(f.ANN)
	}

	for _, e := range f.Entries {
		w.U32(e.ID)
		w.Block([]byte(e.Segment))
		w.U32(e.Offset)
		w.U32(e.Length)
	}

	return w.Bytes()
}

// DecodeIndexFile parses a VLIX file back into its fields and entries.
func DecodeIndexFile(buf []byte) (IndexFile, error) {
	r := codec.NewReader(buf)

	if err := r.Magic(indexMagic); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	ver, err := r.U32()
	if err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if ver != indexVersion {
		return IndexFile{}, fmt.Errorf("%w: unsupported index file version %d", errs.ErrFormatError, ver)
	}

	if _, err := r.U64(); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	var f IndexFile

	if f.MetricCode, err = r.U32(); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if f.Dim, err = r.U32(); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if f.Count, err = r.U32(); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if f.StrategyCode, err = r.U32(); err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	flags, err := r.U32()
	if err != nil {
		return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
	}

	if flags&flagHasANN != 0 {
		ann, err := r.Block()
		if err != nil {
			return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		f.ANN = append([]byte(nil), ann...)
	}

	for r.Remaining() > 0 {
		id, err := r.U32()
		if err != nil {
			return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		name, err := r.Block()
		if err != nil {
			return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		offset, err := r.U32()
		if err != nil {
			return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		length, err := r.U32()
		if err != nil {
			return IndexFile{}, fmt.Errorf("%w: %w", errs.ErrFormatError, err)
		}

		f.Entries = append(f.Entries, IndexEntry{
			ID:      id,
			Segment: string(name),
			Offset:  offset,
			Length:  length,
		})
	}

	return f, nil
}
