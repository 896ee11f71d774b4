// Package compaction selects and executes compactions: the background work
// that merges overlapping SSTables to bound read amplification and reclaim
// space from overwritten and deleted keys. Grounded on
// github.com/cockroachdb/pebble's compaction_picker.go and compaction.go,
// simplified to a single-table-per-level picker (pebble's adaptive
// multi-table expansion is replaced by a fixed round-robin cursor).
package compaction

import (
	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/manifest"
)

// DefaultL0Trigger is the number of L0 tables that triggers an L0
// compaction.
const DefaultL0Trigger = 4

// DefaultBaseBytes is the base of the per-level byte-size trigger: level i
// (i >= 1) triggers once its total size exceeds 10^i * DefaultBaseBytes.
const DefaultBaseBytes = 10 << 20

// Compaction describes one picked compaction: merge Inputs (from
// InputLevel, or all of L0) and Parents (the overlapping tables at
// InputLevel+1) into new tables at OutputLevel, bounding output file
// rollover against Grandparents (the overlapping tables at OutputLevel+1).
type Compaction struct {
	InputLevel  int
	OutputLevel int
	Inputs      []*manifest.TableMetadata
	Parents     []*manifest.TableMetadata
	Grandparents []*manifest.TableMetadata
}

// AllInputs returns every table the compaction reads from.
func (c *Compaction) AllInputs() []*manifest.TableMetadata {
	return append(append([]*manifest.TableMetadata(nil), c.Inputs...), c.Parents...)
}

// Picker chooses compactions against the current Version.
type Picker struct {
	cmp       base.Compare
	l0Trigger int
	baseBytes uint64

	// cursors[level] is the smallest key of the last table picked from
	// level, so picking round-robins through the level instead of always
	// choosing the same table.
	cursors [manifest.NumLevels][]byte
}

// NewPicker returns a Picker with the given triggers.
func NewPicker(cmp base.Compare, l0Trigger int, baseBytes uint64) *Picker {
	if l0Trigger <= 0 {
		l0Trigger = DefaultL0Trigger
	}
	if baseBytes == 0 {
		baseBytes = DefaultBaseBytes
	}
	return &Picker{cmp: cmp, l0Trigger: l0Trigger, baseBytes: baseBytes}
}

func pow10(n int) uint64 {
	r := uint64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

// Pick returns the next compaction to run against v, or nil if nothing
// exceeds its trigger.
func (p *Picker) Pick(v *manifest.Version) *Compaction {
	if len(v.Levels[0]) >= p.l0Trigger {
		return p.pickL0(v)
	}
	for level := 1; level < manifest.NumLevels-1; level++ {
		if v.TotalSize(level) > p.baseBytes*pow10(level) {
			if c := p.pickLevel(v, level); c != nil {
				return c
			}
		}
	}
	return nil
}

func (p *Picker) pickL0(v *manifest.Version) *Compaction {
	inputs := append([]*manifest.TableMetadata(nil), v.Levels[0]...)
	if len(inputs) == 0 {
		return nil
	}
	start, end := unionRange(p.cmp, inputs)
	return &Compaction{
		InputLevel:   0,
		OutputLevel:  1,
		Inputs:       inputs,
		Parents:      v.Overlaps(1, p.cmp, start, end),
		Grandparents: overlapsOrNil(v, 2, p.cmp, start, end),
	}
}

func overlapsOrNil(v *manifest.Version, level int, cmp base.Compare, start, end []byte) []*manifest.TableMetadata {
	if level >= manifest.NumLevels {
		return nil
	}
	return v.Overlaps(level, cmp, start, end)
}

// pickLevel selects one table from level, advancing past the previous
// pick's range with a round-robin per-level cursor. Because levels >= 1
// are kept disjoint, a single table never needs further expansion within
// its own level.
func (p *Picker) pickLevel(v *manifest.Version, level int) *Compaction {
	tables := v.Levels[level]
	if len(tables) == 0 {
		return nil
	}
	idx := 0
	if cursor := p.cursors[level]; cursor != nil {
		for i, t := range tables {
			if p.cmp(t.Smallest.UserKey, cursor) > 0 {
				idx = i
				break
			}
			idx = (i + 1) % len(tables)
		}
	}
	table := tables[idx]
	p.cursors[level] = table.Smallest.UserKey

	start, end := table.Smallest.UserKey, table.Largest.UserKey
	return &Compaction{
		InputLevel:   level,
		OutputLevel:  level + 1,
		Inputs:       []*manifest.TableMetadata{table},
		Parents:      v.Overlaps(level+1, p.cmp, start, end),
		Grandparents: overlapsOrNil(v, level+2, p.cmp, start, end),
	}
}

func unionRange(cmp base.Compare, tables []*manifest.TableMetadata) (start, end []byte) {
	for _, t := range tables {
		if start == nil || cmp(t.Smallest.UserKey, start) < 0 {
			start = t.Smallest.UserKey
		}
		if end == nil || cmp(t.Largest.UserKey, end) > 0 {
			end = t.Largest.UserKey
		}
	}
	return start, end
}
