package arenaskl

import (
	"sync/atomic"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/fastrand"
)

const (
	maxHeight       = 20
	heightIncreaseP = 4 // P(grow another level) = 1/heightIncreaseP
)

type node struct {
	key   []byte
	value []byte
	tower [maxHeight]atomic.Pointer[node]
}

// Skiplist is an ordered map from encoded internal key to value, supporting
// one concurrent writer and any number of concurrent lock-free readers.
// Keys are arena-allocated so ApproximateBytes is an O(1) counter read
// rather than a heap walk.
type Skiplist struct {
	arena  *Arena
	cmp    base.Compare
	head   *node
	height atomic.Int32
}

// NewSkiplist constructs an empty skip list backed by arena. Entries are
// fully encoded internal keys, decoded and ordered with
// base.InternalCompare, with cmp comparing their user-key parts.
func NewSkiplist(arena *Arena, cmp base.Compare) *Skiplist {
	return &Skiplist{arena: arena, cmp: cmp, head: &node{}, height: atomic.Int32{}}
}

func randomHeight() int {
	h := 1
	for h < maxHeight && fastrand.Uint32()%heightIncreaseP == 0 {
		h++
	}
	return h
}

// compareEncoded compares two encoded internal keys using InternalCompare
// over the decoded representation.
func (s *Skiplist) compareEncoded(a, b []byte) int {
	return base.InternalCompare(s.cmp, base.DecodeInternalKey(a), base.DecodeInternalKey(b))
}

// findSplice locates, for each level, the last node whose key is < key
// (preds) and the first node whose key is >= key (succs).
func (s *Skiplist) findSplice(key []byte) (preds, succs [maxHeight]*node) {
	height := int(s.height.Load())
	if height == 0 {
		height = 1
	}
	pred := s.head
	for level := maxHeight - 1; level >= 0; level-- {
		if level >= height {
			preds[level] = s.head
			succs[level] = nil
			continue
		}
		curr := pred.tower[level].Load()
		for curr != nil && s.compareEncoded(curr.key, key) < 0 {
			pred = curr
			curr = pred.tower[level].Load()
		}
		preds[level] = pred
		succs[level] = curr
	}
	return preds, succs
}

// Insert adds key/value to the skip list. key must be a fully encoded
// internal key (see base.InternalKey.Encode); it is copied into the arena.
// Insert never overwrites: callers insert a new internal key (new sequence
// number) rather than mutating an existing one, matching the append-only
// memtable model. Returns ErrArenaFull when the backing arena has no room
// left, signaling the caller to freeze this memtable and rotate in a fresh
// one.
func (s *Skiplist) Insert(key, value []byte) error {
	arenaKey, err := s.arena.Alloc(len(key))
	if err != nil {
		return err
	}
	copy(arenaKey, key)

	var arenaValue []byte
	if len(value) > 0 {
		arenaValue, err = s.arena.Alloc(len(value))
		if err != nil {
			return err
		}
		copy(arenaValue, value)
	}

	n := &node{key: arenaKey, value: arenaValue}
	height := randomHeight()

	preds, succs := s.findSplice(key)
	if int32(height) > s.height.Load() {
		// Insert is single-writer (serialized by the write mutex upstream),
		// so a plain store is sufficient; readers only ever observe height
		// growing, never shrinking.
		s.height.Store(int32(height))
	}
	// Link from the base level up: a concurrent reader descending through
	// findSplice/seekGE must never observe n via a higher-level pointer
	// before its level-0 pointer is set, since that would let it find a
	// node not yet reachable by a plain bottom-level walk.
	for level := 0; level < height; level++ {
		n.tower[level].Store(succs[level])
		preds[level].tower[level].Store(n)
	}
	return nil
}

// seekGE returns the first node with an encoded key >= key, or nil.
func (s *Skiplist) seekGE(key []byte) *node {
	height := int(s.height.Load())
	if height == 0 {
		return nil
	}
	pred := s.head
	var curr *node
	for level := height - 1; level >= 0; level-- {
		curr = pred.tower[level].Load()
		for curr != nil && s.compareEncoded(curr.key, key) < 0 {
			pred = curr
			curr = pred.tower[level].Load()
		}
	}
	return curr
}

// Get returns the first entry with encoded key >= searchKey, or nil/false
// if there is none. It does not check that the entry's user key matches
// searchKey's; callers compare user keys themselves.
func (s *Skiplist) Get(searchKey []byte) (encodedKey, value []byte, ok bool) {
	n := s.seekGE(searchKey)
	if n == nil {
		return nil, nil, false
	}
	return n.key, n.value, true
}

// Iterator is a forward cursor over the skip list.
type Iterator struct {
	list *Skiplist
	node *node
}

// NewIter returns an iterator positioned before the first entry.
func (s *Skiplist) NewIter() *Iterator { return &Iterator{list: s} }

// SeekGE positions the iterator at the first entry with encoded key >= key.
func (it *Iterator) SeekGE(key []byte) { it.node = it.list.seekGE(key) }

// First positions the iterator at the first entry.
func (it *Iterator) First() { it.node = it.list.head.tower[0].Load() }

// Next advances the iterator.
func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.tower[0].Load()
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the encoded internal key at the current position.
func (it *Iterator) Key() []byte { return it.node.key }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.node.value }
