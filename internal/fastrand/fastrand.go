// Package fastrand provides a small, mutex-protected PCG random source for
// the skip list's coin-flip height generation. Grounded on
// github.com/cockroachdb/pebble/internal/fastrand, which exists precisely
// because the skip list needs a source of randomness cheaper than
// goroutine-local math/rand.Rand allocation but doesn't need to be
// lock-free (height generation is on the single-writer insert path, never
// the concurrent-reader path).
package fastrand

import (
	"sync"
	"time"

	"golang.org/x/exp/rand"
)

var global = newSource()

type source struct {
	mu  sync.Mutex
	src rand.PCGSource
}

func newSource() *source {
	s := &source{}
	s.src.Seed(uint64(time.Now().UnixNano()))
	return s
}

func (s *source) uint32() uint32 {
	s.mu.Lock()
	v := uint32(s.src.Uint64())
	s.mu.Unlock()
	return v
}

// Uint32 returns a pseudo-random uint32.
func Uint32() uint32 { return global.uint32() }
