// Package errs defines the sentinel error taxonomy shared across vela's
// internal packages. Callers test membership with errors.Is. [*CodeError]
// (built by WithID/WithSegment) can carry the offending id, segment, or
// offset, but no operation in this module currently wraps its errors in
// one; the id, where reported, is part of the error text.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors. See spec §7 for the taxonomy these implement.
var (
	// ErrDimMismatch is returned when a vector's length does not equal the
	// store's configured dimension. The operation is rejected; state is
	// left untouched.
	ErrDimMismatch = errors.New("vela: dimension mismatch")

	// ErrDuplicate is returned by insert when an id already exists and the
	// caller did not request upsert semantics.
	ErrDuplicate = errors.New("vela: duplicate id")

	// ErrNotFound is part of the taxonomy but no operation in this module
	// returns it: a blob store read of an absent path returns the distinct
	// sentinel blobstore.ErrNotFound instead.
	ErrNotFound = errors.New("vela: not found")

	// ErrMissingState is returned when a manifest or catalog is absent
	// during open/rebuild. Callers may create fresh state or invoke a
	// caller-supplied on-missing hook.
	ErrMissingState = errors.New("vela: missing state")

	// ErrMissingSegment is returned when an index entry references a
	// segment that cannot be resolved via the manifest or CRUSH fallback.
	// Fatal to the open operation.
	ErrMissingSegment = errors.New("vela: missing segment")

	// ErrFormatError is returned for a bad magic, unsupported version,
	// unknown enum code, or decoder overflow. Fatal to the enclosing
	// operation. A WAL checksum mismatch is reported as ErrWALCorrupt.
	ErrFormatError = errors.New("vela: format error")

	// ErrUnknownCode is returned when an enum code (metric or strategy)
	// does not map to a known value. Wraps ErrFormatError.
	ErrUnknownCode = fmt.Errorf("%w: unknown code", ErrFormatError)

	// ErrWALCorrupt reports a committed WAL segment whose checksum does
	// not match its body.
	ErrWALCorrupt = errors.New("vela: wal corrupt")

	// ErrClosed is returned by operations on a client that has already
	// been closed.
	ErrClosed = errors.New("vela: closed")

	// ErrBusy is returned when a lock or lease cannot be acquired.
	ErrBusy = errors.New("vela: busy")
)

// CodeError wraps a sentinel with the offending identifier for
// diagnostics, in the style of the teacher's wrapped WAL/store errors.
type CodeError struct {
	Err     error
	ID      uint32
	Segment string
	Offset  int64
}

func (e *CodeError) Error() string {
	switch {
	case e.Segment != "":
		return fmt.Sprintf("%s: segment %q offset %d", e.Err, e.Segment, e.Offset)
	case e.ID != 0:
		return fmt.Sprintf("%s: id %d", e.Err, e.ID)
	default:
		return e.Err.Error()
	}
}

func (e *CodeError) Unwrap() error { return e.Err }

// WithID returns a *CodeError wrapping err that carries id for diagnostics.
func WithID(err error, id uint32) error {
	return &CodeError{Err: err, ID: id}
}

// WithSegment returns a *CodeError wrapping err that carries the segment
// name and byte offset for diagnostics.
func WithSegment(err error, segment string, offset int64) error {
	return &CodeError{Err: err, Segment: segment, Offset: offset}
}
