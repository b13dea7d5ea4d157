// Package codec provides the little-endian primitives every on-disk Vela
// format builds on: a growable byte writer, a bounds-checked reader over a
// byte slice, length-prefixed block helpers, and the bijective enum codecs
// for metric and strategy. The style mirrors the teacher's hand-rolled
// header codecs (pkg/slotcache/format.go, internal/store/wal.go): plain
// encoding/binary calls over a flat buffer, no reflection.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/velodb/vela/internal/errs"
	"github.com/velodb/vela/internal/vecmath"
)

// Writer accumulates a little-endian encoded byte stream.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity hint.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated buffer. The caller must not mutate it if
// the Writer is reused afterward.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// U8 appends a single byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// F32 appends a little-endian float32.
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// F32Slice appends a little-endian float32 array with no length prefix.
func (w *Writer) F32Slice(v []float32) {
	for _, f := range v {
		w.F32(f)
	}
}

// Raw appends b verbatim with no length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Block appends a uint32 length prefix followed by b ("length-prefixed
// byte block" in spec §2).
func (w *Writer) Block(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader decodes a little-endian byte stream with bounds checking; every
// accessor returns errs.ErrFormatError on overflow instead of panicking.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential little-endian decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// PeekRemaining returns the unread tail of the buffer without advancing
// the read position. The returned slice aliases the reader's backing
// array.
func (r *Reader) PeekRemaining() []byte { return r.buf[r.pos:] }

// Skip advances the read position by n bytes without returning them.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}

	r.pos += n

	return nil
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d at offset %d", errs.ErrFormatError, n, r.Remaining(), r.pos)
	}

	return nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}

	v := r.buf[r.pos]
	r.pos++

	return v, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4

	return v, nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8

	return v, nil
}

// F32 reads a little-endian float32.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(v), nil
}

// F32Slice reads n little-endian float32s with no length prefix.
func (r *Reader) F32Slice(n int) ([]float32, error) {
	out := make([]float32, n)

	for i := range out {
		f, err := r.F32()
		if err != nil {
			return nil, err
		}

		out[i] = f
	}

	return out, nil
}

// Raw reads n bytes verbatim. The returned slice aliases the reader's
// backing array; callers that retain it beyond the decode call must copy.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}

	v := r.buf[r.pos : r.pos+n]
	r.pos += n

	return v, nil
}

// Block reads a uint32 length prefix followed by that many bytes.
func (r *Reader) Block() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}

	return r.Raw(int(n))
}

// Magic reads exactly 4 bytes and verifies they equal want, returning
// errs.ErrFormatError otherwise.
func (r *Reader) Magic(want string) error {
	b, err := r.Raw(len(want))
	if err != nil {
		return err
	}

	if string(b) != want {
		return fmt.Errorf("%w: bad magic %q, want %q", errs.ErrFormatError, b, want)
	}

	return nil
}

// Enum codecs. Codes are bijective per spec §4.8: metric
// {cosine=0, l2=1, dot=2}; strategy {bruteforce=0, hnsw=1, ivf=2}.

// Strategy identifies which ANN strategy a store uses.
type Strategy uint8

const (
	StrategyBruteForce Strategy = iota
	StrategyHNSW
	StrategyIVF
)

// EncodeMetric maps a metric to its bijective on-disk code.
func EncodeMetric(m vecmath.Metric) uint32 { return uint32(m) }

// DecodeMetric maps an on-disk code back to a metric, failing with
// errs.ErrUnknownCode for any value outside {0,1,2}.
func DecodeMetric(code uint32) (vecmath.Metric, error) {
	switch code {
	case uint32(vecmath.MetricCosine):
		return vecmath.MetricCosine, nil
	case uint32(vecmath.MetricL2):
		return vecmath.MetricL2, nil
	case uint32(vecmath.MetricDot):
		return vecmath.MetricDot, nil
	default:
		return 0, fmt.Errorf("%w: metric %d", errs.ErrUnknownCode, code)
	}
}

// EncodeStrategy maps a strategy to its bijective on-disk code.
func EncodeStrategy(s Strategy) uint32 { return uint32(s) }

// DecodeStrategy maps an on-disk code back to a strategy, failing with
// errs.ErrUnknownCode for any value outside {0,1,2}.
func DecodeStrategy(code uint32) (Strategy, error) {
	switch code {
	case uint32(StrategyBruteForce):
		return StrategyBruteForce, nil
	case uint32(StrategyHNSW):
		return StrategyHNSW, nil
	case uint32(StrategyIVF):
		return StrategyIVF, nil
	default:
		return 0, fmt.Errorf("%w: strategy %d", errs.ErrUnknownCode, code)
	}
}
