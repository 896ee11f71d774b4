// Package arenaskl implements the memtable's skip list: a probabilistic,
// ordered map over internal keys with lock-free reads concurrent with a
// single writer. Grounded on
// github.com/cockroachdb/pebble/internal/arenaskl.
package arenaskl

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrArenaFull is returned by Alloc when the arena has no room left; the
// memtable interprets this as "time to freeze and rotate".
var ErrArenaFull = errors.New("arenaskl: arena full")

// Arena is a fixed-capacity, bump-pointer byte allocator. Every key and
// value copied into the memtable is allocated from one, so
// Memtable.ApproximateBytes is a single atomic load rather than a walk of
// live Go heap objects.
type Arena struct {
	buf    []byte
	offset atomic.Uint32
}

// NewArena allocates a new Arena with the given fixed capacity.
func NewArena(capacity uint32) *Arena {
	return &Arena{buf: make([]byte, capacity)}
}

// Alloc bump-allocates size bytes and returns them, or ErrArenaFull if the
// arena has no room left.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	newOffset := a.offset.Add(uint32(size))
	if int(newOffset) > len(a.buf) {
		return nil, ErrArenaFull
	}
	return a.buf[newOffset-uint32(size) : newOffset : newOffset], nil
}

// Size returns the number of bytes allocated so far.
func (a *Arena) Size() uint32 { return a.offset.Load() }

// Capacity returns the arena's fixed capacity.
func (a *Arena) Capacity() uint32 { return uint32(len(a.buf)) }
