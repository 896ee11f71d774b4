// Package memtable implements the in-memory ordered map that receives new
// writes before they are flushed to an SSTable, as a thin capability
// wrapper around internal/arenaskl's skip list. Keeping this as its own
// small package (rather than inlining the skip list calls into the DB
// façade) is what lets the memtable be swapped for an alternative data
// structure, per the "polymorphism of memtable, WAL and filter" design note.
package memtable

import (
	"bytes"

	"github.com/kvlite/kvlite/internal/arenaskl"
	"github.com/kvlite/kvlite/internal/base"
)

// Memtable is an ordered map from internal key to value, backed by a
// fixed-capacity arena. Insert never blocks readers; Get and NewIter never
// block Insert.
type Memtable struct {
	skl    *arenaskl.Skiplist
	arena  *arenaskl.Arena
	logNum uint64
	seqNum base.SeqNum // highest sequence number inserted so far
}

// New creates an empty memtable with the given arena capacity in bytes,
// associated with the WAL file numbered logNum (so the manifest can record
// which WAL this memtable's writes are recoverable from).
func New(capacityBytes uint32, logNum uint64) *Memtable {
	arena := arenaskl.NewArena(capacityBytes)
	return &Memtable{
		skl:    arenaskl.NewSkiplist(arena, base.DefaultCompare),
		arena:  arena,
		logNum: logNum,
	}
}

// LogNum returns the WAL file number this memtable's writes are durable in.
func (m *Memtable) LogNum() uint64 { return m.logNum }

// Insert adds an entry. It returns arenaskl.ErrArenaFull when the memtable
// has reached its capacity; the caller (the DB façade) responds by freezing
// this memtable and rotating in a fresh one.
func (m *Memtable) Insert(key base.InternalKey, value []byte) error {
	encoded := key.EncodeToBytes()
	if err := m.skl.Insert(encoded, value); err != nil {
		return err
	}
	if key.SeqNum() > m.seqNum {
		m.seqNum = key.SeqNum()
	}
	return nil
}

// LookupResult enumerates the possible outcomes of Get.
type LookupResult int

const (
	// LookupNotFound means no entry with this user key exists in the
	// memtable at all.
	LookupNotFound LookupResult = iota
	// LookupFound means a live value was found.
	LookupFound
	// LookupDeleted means the newest entry for this user key is a
	// tombstone.
	LookupDeleted
)

// Get returns the highest-sequence entry for userKey.
func (m *Memtable) Get(userKey []byte) (value []byte, result LookupResult) {
	search := base.MakeSearchKey(userKey).EncodeToBytes()
	encKey, v, ok := m.skl.Get(search)
	if !ok {
		return nil, LookupNotFound
	}
	ikey := base.DecodeInternalKey(encKey)
	if !bytes.Equal(ikey.UserKey, userKey) {
		return nil, LookupNotFound
	}
	if ikey.Kind() == base.InternalKeyKindDelete {
		return nil, LookupDeleted
	}
	return v, LookupFound
}

// ApproximateBytes returns the number of bytes allocated from the
// memtable's arena so far, used by the flush-size threshold.
func (m *Memtable) ApproximateBytes() uint32 { return m.arena.Size() }

// Full reports whether the memtable's arena has no room left.
func (m *Memtable) Full() bool { return m.arena.Size() >= m.arena.Capacity() }

// Iterator is a restartable forward cursor over the memtable, honoring an
// optional [lower, upper) user-key bound.
type Iterator struct {
	it    *arenaskl.Iterator
	cmp   base.Compare
	upper []byte
}

// NewIter returns an iterator bounded to [lower, upper). A nil lower starts
// at the first entry; a nil upper has no upper bound.
func (m *Memtable) NewIter(lower, upper []byte) *Iterator {
	it := m.skl.NewIter()
	if lower != nil {
		it.SeekGE(base.MakeInternalKey(lower, base.SeqNumMax, base.InternalKeyKindMax).EncodeToBytes())
	} else {
		it.First()
	}
	return &Iterator{it: it, cmp: base.DefaultCompare, upper: upper}
}

// Valid reports whether the iterator is positioned at an in-bounds entry.
func (it *Iterator) Valid() bool {
	if !it.it.Valid() {
		return false
	}
	if it.upper == nil {
		return true
	}
	return it.cmp(base.DecodeInternalKey(it.it.Key()).UserKey, it.upper) < 0
}

// Next advances the iterator.
func (it *Iterator) Next() { it.it.Next() }

// Key returns the decoded internal key at the current position.
func (it *Iterator) Key() base.InternalKey { return base.DecodeInternalKey(it.it.Key()) }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.it.Value() }
