package base

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// The seven error kinds. Each is a sentinel that callers compare against
// with errors.Is; the kvlite package re-exports these under shorter names.
var (
	// ErrNotFound means a get found no live entry for the user key (absent
	// or tombstoned).
	ErrNotFound = errors.New("kvlite: not found")
	// ErrCorrupt means a CRC mismatch, bad footer magic, malformed
	// VersionEdit or truncated record was encountered somewhere that cannot
	// tolerate it (the manifest, a sealed data block, the codec).
	ErrCorrupt = errors.New("kvlite: corruption")
	// ErrIo wraps an underlying filesystem error.
	ErrIo = errors.New("kvlite: I/O error")
	// ErrLocked means the database directory is already held open by
	// another process.
	ErrLocked = errors.New("kvlite: database already locked")
	// ErrInvalidArgument means an oversized key/value or a misconfigured
	// option was supplied.
	ErrInvalidArgument = errors.New("kvlite: invalid argument")
	// ErrUnsupported means an unknown format version or compression kind
	// was encountered.
	ErrUnsupported = errors.New("kvlite: unsupported")
	// ErrClosed means an operation was attempted on a closed DB.
	ErrClosed = errors.New("kvlite: db closed")
)

// MarkCorrupt wraps err (or constructs one from msg if err is nil) and marks
// it so that errors.Is(result, ErrCorrupt) is true, both for the standard
// library's errors.Is (ErrCorrupt is in the wrap chain) and for
// cockroachdb/errors.Is (the mark).
func MarkCorrupt(err error, msg string, args ...interface{}) error {
	if err == nil {
		err = errors.Newf(msg, args...)
	} else {
		err = errors.Wrapf(err, msg, args...)
	}
	return errors.Mark(fmt.Errorf("%w: %w", err, ErrCorrupt), ErrCorrupt)
}

// MarkIo wraps an underlying I/O error so errors.Is(result, ErrIo) is true.
func MarkIo(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrIo)
}
