package kvlite

import (
	"container/heap"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/sstable"
)

// source is anything NewIter can merge: internal/memtable.Iterator and
// internal/sstable.Iterator both already satisfy it.
type source interface {
	Valid() bool
	Next()
	Key() base.InternalKey
	Value() []byte
}

// boundedSource clips an unbounded source (an SSTable iterator has no
// notion of an upper bound of its own) to [_, upper).
type boundedSource struct {
	source
	cmp   base.Compare
	upper []byte
}

func (b *boundedSource) Valid() bool {
	if !b.source.Valid() {
		return false
	}
	return b.upper == nil || b.cmp(b.Key().UserKey, b.upper) < 0
}

type mergeHeap struct {
	items []source
	cmp   base.Compare
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return base.InternalCompare(h.cmp, h.items[i].Key(), h.items[j].Key()) < 0
}
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(source)) }
func (h *mergeHeap) Pop() interface{} {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

// Iterator is a forward cursor over a consistent snapshot of the
// database, merging the memtables and every live SSTable by internal-key
// order and deduplicating by first-seen user key.
type Iterator struct {
	db      *DB
	version *manifest.Version
	readers []*sstable.Reader
	h       *mergeHeap
	asOf    base.SeqNum

	cmp         base.Compare
	lastUserKey []byte
	haveLast    bool
	key         base.InternalKey
	value       []byte
	valid       bool
}

// NewIter returns an Iterator over [lower, upper). A nil lower starts at
// the first key; a nil upper has no upper bound.
func (db *DB) NewIter(lower, upper []byte) *Iterator {
	v := db.version.Load()
	v.Ref()
	asOf := base.SeqNum(db.lastSeqNum.Load())
	db.registerIter(asOf)

	st := db.memState.Load()
	h := &mergeHeap{cmp: db.cmp}
	pushIfValid := func(s source) {
		if s.Valid() {
			h.items = append(h.items, s)
		}
	}
	pushIfValid(st.mutable.NewIter(lower, upper))
	if st.immutable != nil {
		pushIfValid(st.immutable.NewIter(lower, upper))
	}

	it := &Iterator{db: db, version: v, h: h, asOf: asOf, cmp: db.cmp}

	for level := 0; level < manifest.NumLevels; level++ {
		for _, t := range v.Levels[level] {
			if !t.Overlaps(db.cmp, lower, upperInclusiveBound(upper)) {
				continue
			}
			f, err := db.fs.Open(db.tablePath(t.FileNum))
			if err != nil {
				continue
			}
			r, err := sstable.Open(f, t.FileNum, db.cache, db.cmp)
			if err != nil {
				f.Close()
				continue
			}
			it.readers = append(it.readers, r)
			tableIt := r.NewIter()
			if lower != nil {
				tableIt.SeekGE(lower)
			} else {
				tableIt.First()
			}
			pushIfValid(&boundedSource{source: tableIt, cmp: db.cmp, upper: upper})
		}
	}
	heap.Init(it.h)
	it.advance()
	return it
}

// upperInclusiveBound loosens an exclusive upper bound into the inclusive
// one Overlaps expects, since a nil result there means unbounded.
func upperInclusiveBound(upper []byte) []byte { return upper }

func (it *Iterator) advance() {
	for it.h.Len() > 0 {
		top := it.h.items[0]
		key := top.Key().Clone()
		value := append([]byte(nil), top.Value()...)

		top.Next()
		if top.Valid() {
			heap.Fix(it.h, 0)
		} else {
			heap.Pop(it.h)
		}

		// A write committed after the scan started must not be visible to
		// it: the snapshot is exactly what existed at NewIter time.
		// This has to be checked before the same-user-key dedup logic below,
		// since skipping a too-new entry must not poison lastUserKey against
		// the older, as-of-asOf version of the same key that follows it.
		if key.SeqNum() > it.asOf {
			continue
		}
		sameAsLast := it.haveLast && it.cmp(key.UserKey, it.lastUserKey) == 0
		it.lastUserKey = key.UserKey
		it.haveLast = true
		if sameAsLast {
			continue
		}
		if key.Kind() == base.InternalKeyKindDelete {
			continue
		}
		it.key, it.value, it.valid = key, value, true
		return
	}
	it.valid = false
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Next advances to the next live, first-seen user key.
func (it *Iterator) Next() { it.advance() }

// Key returns the current entry's internal key.
func (it *Iterator) Key() base.InternalKey { return it.key }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.value }

// Close releases the iterator's SSTable file handles and Version
// reference. It must be called exactly once.
func (it *Iterator) Close() error {
	for _, r := range it.readers {
		r.Close()
	}
	it.db.unregisterIter(it.asOf)
	it.db.releaseVersionRef(it.version)
	return nil
}
