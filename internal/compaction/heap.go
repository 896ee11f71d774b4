package compaction

import "github.com/kvlite/kvlite/internal/sstable"

// mergeSource is one input table's iterator, live on the merge heap for as
// long as it has entries left.
type mergeSource struct {
	it *sstable.Iterator
}

// mergeHeap is a container/heap over mergeSources, ordered by the
// iterators' current internal key under cmp, implementing the k-way
// merge at the heart of a compaction.
type mergeHeap struct {
	sources []*mergeSource
	less    func(a, b *mergeSource) bool
}

func (h *mergeHeap) Len() int { return len(h.sources) }
func (h *mergeHeap) Less(i, j int) bool { return h.less(h.sources[i], h.sources[j]) }
func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }

func (h *mergeHeap) Push(x interface{}) { h.sources = append(h.sources, x.(*mergeSource)) }

func (h *mergeHeap) Pop() interface{} {
	n := len(h.sources)
	item := h.sources[n-1]
	h.sources = h.sources[:n-1]
	return item
}
