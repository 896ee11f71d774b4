package kvlite

import "github.com/kvlite/kvlite/internal/base"

// The seven error kinds, re-exported under the public package so callers
// never need to import internal/base directly.
var (
	ErrNotFound        = base.ErrNotFound
	ErrCorrupt         = base.ErrCorrupt
	ErrIo              = base.ErrIo
	ErrLocked          = base.ErrLocked
	ErrInvalidArgument = base.ErrInvalidArgument
	ErrUnsupported     = base.ErrUnsupported
	ErrClosed          = base.ErrClosed
)
