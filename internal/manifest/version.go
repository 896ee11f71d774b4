// Package manifest tracks the durable history of the table tree: which
// SSTables exist at which level, and the log/sequence-number bookkeeping
// needed to recover a database after a crash. Grounded on
// github.com/cockroachdb/pebble/internal/manifest, trimmed to the
// single-threaded-apply model kvlite's compactor uses.
package manifest

import (
	"sort"
	"sync/atomic"

	"github.com/kvlite/kvlite/internal/base"
)

// NumLevels is the fixed number of levels in the table tree.
const NumLevels = 7

// TableMetadata describes one sealed SSTable registered in a Version.
type TableMetadata struct {
	FileNum  uint64
	Size     uint64
	Smallest base.InternalKey
	Largest  base.InternalKey
}

// Overlaps reports whether the table's [Smallest, Largest] user-key range
// intersects [start, end] (both inclusive; a nil bound is unbounded).
func (m *TableMetadata) Overlaps(cmp base.Compare, start, end []byte) bool {
	if start != nil && cmp(m.Largest.UserKey, start) < 0 {
		return false
	}
	if end != nil && cmp(m.Smallest.UserKey, end) > 0 {
		return false
	}
	return true
}

// Version is an immutable snapshot of the table tree: which SSTables exist
// at each level. Versions are ref-counted so that a compaction cannot
// delete a file still visible to an in-progress read.
type Version struct {
	Levels [NumLevels][]*TableMetadata

	refs atomic.Int32
}

// NewVersion returns an empty Version with a single reference.
func NewVersion() *Version {
	v := &Version{}
	v.refs.Store(1)
	return v
}

// Ref adds one reference to v.
func (v *Version) Ref() { v.refs.Add(1) }

// Unref removes one reference from v and reports whether that was the last
// one, at which point any of v's tables not present in the current Version
// are safe to delete.
func (v *Version) Unref() bool { return v.refs.Add(-1) == 0 }

// Overlaps returns every table at level whose range intersects [start, end].
func (v *Version) Overlaps(level int, cmp base.Compare, start, end []byte) []*TableMetadata {
	var out []*TableMetadata
	for _, t := range v.Levels[level] {
		if t.Overlaps(cmp, start, end) {
			out = append(out, t)
		}
	}
	return out
}

// TotalSize returns the sum of file sizes at level.
func (v *Version) TotalSize(level int) uint64 {
	var sum uint64
	for _, t := range v.Levels[level] {
		sum += t.Size
	}
	return sum
}

// clone returns a shallow copy of v's level slices (the TableMetadata
// pointers themselves are shared and never mutated in place).
func (v *Version) clone() *Version {
	nv := &Version{}
	for i := range v.Levels {
		nv.Levels[i] = append([]*TableMetadata(nil), v.Levels[i]...)
	}
	nv.refs.Store(1)
	return nv
}

// Apply returns a new Version reflecting edit's deletions and additions.
// Level 0 keeps insertion order (its files may overlap and must be
// searched newest-first); levels 1 and up are kept sorted by smallest key,
// since compaction maintains the invariant that they never overlap among
// themselves.
func (v *Version) Apply(edit *VersionEdit, cmp base.Compare) *Version {
	deleted := make(map[uint64]bool, len(edit.DeletedTables))
	for _, d := range edit.DeletedTables {
		deleted[d.FileNum] = true
	}

	nv := &Version{}
	nv.refs.Store(1)
	for level := 0; level < NumLevels; level++ {
		for _, t := range v.Levels[level] {
			if !deleted[t.FileNum] {
				nv.Levels[level] = append(nv.Levels[level], t)
			}
		}
	}
	for _, a := range edit.AddedTables {
		nv.Levels[a.Level] = append(nv.Levels[a.Level], a.Meta)
	}
	for level := 1; level < NumLevels; level++ {
		lvl := nv.Levels[level]
		sort.Slice(lvl, func(i, j int) bool {
			return cmp(lvl[i].Smallest.UserKey, lvl[j].Smallest.UserKey) < 0
		})
	}
	return nv
}
