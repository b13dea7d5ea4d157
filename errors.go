package vela

import (
	"github.com/velodb/vela/internal/blobstore"
	"github.com/velodb/vela/internal/errs"
)

// Sentinel errors. Test membership with errors.Is. Errors returned by
// this package are plain %w wraps of these sentinels; none carries an
// internal/errs CodeError, and the failing id, where reported, is part
// of the error text.
var (
	ErrDimMismatch    = errs.ErrDimMismatch
	ErrDuplicate      = errs.ErrDuplicate
	ErrNotFound       = errs.ErrNotFound
	ErrMissingState   = errs.ErrMissingState
	ErrMissingSegment = errs.ErrMissingSegment
	ErrFormatError    = errs.ErrFormatError
	ErrUnknownCode    = errs.ErrUnknownCode
	ErrWALCorrupt     = errs.ErrWALCorrupt
	ErrClosed         = errs.ErrClosed
	ErrBusy           = errs.ErrBusy

	// ErrBlobNotFound is the sentinel a custom BlobStore.Read must wrap
	// (via fmt.Errorf("...: %w", ErrBlobNotFound)) to signal a missing
	// path; wal and indexing test for it with errors.Is to distinguish
	// "absent" from other read failures.
	ErrBlobNotFound = blobstore.ErrNotFound

	// ErrBlobDeleteUnsupported is returned by a BlobStore.Delete that
	// does not support deletion (rebalance cleanup requires it).
	ErrBlobDeleteUnsupported = blobstore.ErrDeleteUnsupported
)
