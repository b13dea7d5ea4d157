// Package wal implements the write-ahead log (spec §4.7): a record
// encoder/decoder over the VLWA segment format, and a runtime bound to a
// blobstore.Store path that appends, replays, truncates, and verifies it.
// The segment layout and footer mirror the teacher's internal/store/wal.go
// and pkg/mddb/wal.go: a magic-tagged body with a CRC32 footer, replay by
// decoding structurally rather than trusting length alone.
package wal

import (
	"encoding/json"
	"fmt"

	"github.com/velodb/vela/internal/codec"
	"github.com/velodb/vela/internal/errs"
)

const (
	magic   = "VLWA"
	version = uint32(1)

	footerMagic = "WCRC"
)

// OpType identifies a WAL record's kind.
type OpType uint8

const (
	OpUpsert OpType = iota
	OpRemove
	OpSetMeta
)

// Record is a single WAL entry (spec §4.7 "Record types").
type Record struct {
	Op     OpType
	ID     uint32
	Vector []float32
	Meta   []byte // opaque, JSON in the reference encoding
}

// EncodeSegment renders records as one VLWA segment: header, then one
// fixed-layout record each (spec §4.7 "Segment layout"). withFooter appends
// the optional WCRC+CRC32 trailer over the body that follows the header.
func EncodeSegment(records []Record, withFooter bool) ([]byte, error) {
	w := codec.NewWriter(64 + 32*len(records))
	w.Raw([]byte(magic))
	w.U32(version)

	bodyStart := w.Len()

	for _, rec := range records {
		metaBytes := rec.Meta
		if rec.Op == OpRemove {
			metaBytes = nil
		}

		vec := rec.Vector
		if rec.Op != OpUpsert {
			vec = nil
		}

		w.U8(uint8(rec.Op))
		w.U8(0) // reserved
		w.U32(rec.ID)
		w.U32(uint32(len(metaBytes)))
		w.U32(uint32(len(vec)))
		w.Raw(metaBytes)
		w.F32Slice(vec)
	}

	if withFooter {
		body := w.Bytes()[bodyStart:]
		crc := codec.Checksum(body)
		w.Raw([]byte(footerMagic))
		w.U32(crc)
	}

	return w.Bytes(), nil
}

// DecodeStream decodes a concatenated run of VLWA segments (spec §4.7
// "Concatenated segments... re-entering header parse when the next 8 bytes
// match MAGIC+VERSION"). A WCRC footer ends its segment's body and is
// skipped without comparing its checksum (VerifySegments does that);
// malformed structure returns errs.ErrWALCorrupt with whatever records
// were decoded before the failure.
func DecodeStream(buf []byte) ([]Record, error) {
	r := codec.NewReader(buf)

	var records []Record

	for r.Remaining() > 0 {
		if r.Remaining() < 8 {
			return records, fmt.Errorf("%w: trailing %d bytes, too short for header", errs.ErrWALCorrupt, r.Remaining())
		}

		if err := r.Magic(magic); err != nil {
			return records, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err)
		}

		ver, err := r.U32()
		if err != nil {
			return records, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err)
		}

		if ver != version {
			return records, fmt.Errorf("%w: unsupported wal version %d", errs.ErrWALCorrupt, ver)
		}

		for r.Remaining() > 0 {
			if r.Remaining() >= 8 && probableMagic(r) {
				break
			}

			rec, ok, err := decodeRecord(r)
			if err != nil {
				return records, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err)
			}

			if !ok {
				// Footer encountered: nothing more to decode in this segment.
				break
			}

			records = append(records, rec)
		}
	}

	return records, nil
}

// VerifySegments walks buf the same way DecodeStream does, but instead of
// collecting records it recomputes each segment's own WCRC footer checksum
// over only that segment's own body and compares it against the stored
// value (spec §4.7 "Verify"), returning the first mismatch found. A segment
// with no footer is skipped (nothing to check); Checksum reports the last
// footer checksum seen across all segments, or nil if none carried one.
func VerifySegments(buf []byte) (ok bool, mismatchErr error, checksum *uint32) {
	r := codec.NewReader(buf)

	var last *uint32

	for r.Remaining() > 0 {
		if r.Remaining() < 8 {
			return false, fmt.Errorf("%w: trailing %d bytes, too short for header", errs.ErrWALCorrupt, r.Remaining()), last
		}

		if err := r.Magic(magic); err != nil {
			return false, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err), last
		}

		if _, err := r.U32(); err != nil {
			return false, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err), last
		}

		bodyStart := r.Pos()

		for r.Remaining() > 0 {
			if r.Remaining() >= 8 && probableMagic(r) {
				break
			}

			crc, hasFooter, err := peekFooter(r)
			if err != nil {
				return false, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err), last
			}

			if hasFooter {
				body := buf[bodyStart : r.Pos()-8]
				actual := codec.Checksum(body)

				if actual != crc {
					mismatchErr := fmt.Errorf("%w: checksum mismatch: stored %d, actual %d", errs.ErrWALCorrupt, crc, actual)
					return false, mismatchErr, &actual
				}

				last = &actual

				break
			}

			if _, err := decodeRecordFields(r); err != nil {
				return false, fmt.Errorf("%w: %w", errs.ErrWALCorrupt, err), last
			}
		}
	}

	return true, nil, last
}

// probableMagic peeks at the next 8 bytes to see if they look like a new
// segment header (MAGIC+VERSION) without consuming them.
func probableMagic(r *codec.Reader) bool {
	peek := codec.NewReader(r.PeekRemaining())
	if err := peek.Magic(magic); err != nil {
		return false
	}

	v, err := peek.U32()

	return err == nil && v == version
}

// peekFooter checks for a WCRC footer at r's current position without
// disturbing it unless the footer is actually present, in which case the 8
// footer bytes are consumed and the stored checksum returned.
func peekFooter(r *codec.Reader) (crc uint32, ok bool, err error) {
	if r.Remaining() < 8 {
		return 0, false, nil
	}

	peek := codec.NewReader(r.PeekRemaining())
	if err := peek.Magic(footerMagic); err != nil {
		return 0, false, nil
	}

	crc, err = peek.U32()
	if err != nil {
		return 0, false, err
	}

	if err := r.Skip(8); err != nil {
		return 0, false, err
	}

	return crc, true, nil
}

// decodeRecord decodes one record, or detects the WCRC footer and reports
// ok=false without error so the caller stops the segment body cleanly.
func decodeRecord(r *codec.Reader) (Record, bool, error) {
	if _, isFooter, err := peekFooter(r); err != nil {
		return Record{}, false, err
	} else if isFooter {
		return Record{}, false, nil
	}

	rec, err := decodeRecordFields(r)
	if err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

// decodeRecordFields decodes one record's fields, assuming the caller has
// already ruled out a WCRC footer at the current position.
func decodeRecordFields(r *codec.Reader) (Record, error) {
	opByte, err := r.U8()
	if err != nil {
		return Record{}, err
	}

	if _, err := r.U8(); err != nil {
		return Record{}, err
	}

	id, err := r.U32()
	if err != nil {
		return Record{}, err
	}

	metaLen, err := r.U32()
	if err != nil {
		return Record{}, err
	}

	vecLen, err := r.U32()
	if err != nil {
		return Record{}, err
	}

	meta, err := r.Raw(int(metaLen))
	if err != nil {
		return Record{}, err
	}

	vec, err := r.F32Slice(int(vecLen))
	if err != nil {
		return Record{}, err
	}

	op := OpType(opByte)
	if op != OpUpsert && op != OpRemove && op != OpSetMeta {
		return Record{}, fmt.Errorf("unknown op byte %d", opByte)
	}

	rec := Record{Op: op, ID: id}
	if len(vec) > 0 {
		rec.Vector = vec
	}

	if len(meta) > 0 {
		rec.Meta = append([]byte(nil), meta...)
	}

	return rec, nil
}

// MarshalMeta is a convenience for callers building upsert/setMeta records
// from a Go value instead of raw bytes (the reference meta encoding is
// JSON, spec §4.7).
func MarshalMeta(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}
