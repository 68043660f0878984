// Package compaction implements the size-tiered compaction engine and its
// shared merge iterator: minor (size-tiered), tombstone, and major
// compaction passes, each built on the same key-ascending, LSN-descending
// k-way merge.
package compaction

import (
	"container/heap"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
)

// Entry is one point version participating in a merge: a Put or a
// Delete. Range tombstones are handled separately (they do not have a
// single sort key comparable to a point entry's key).
type Entry struct {
	Key    []byte
	Value  []byte
	Delete bool
	LSN    base.LSN
	Ts     int64
}

// RangeTombstone is a deletion marker over [Start, End).
type RangeTombstone struct {
	Start, End []byte
	LSN        base.LSN
	Ts         int64
}

// Source yields Entry values in ascending key order; multiple versions of
// the same key, if present, must be yielded in descending LSN order.
type Source interface {
	Next() (Entry, bool)
}

// SliceSource adapts a pre-sorted, in-memory slice to Source.
type SliceSource struct {
	entries []Entry
	pos     int
}

// NewSliceSource wraps entries, which must already be sorted ascending by
// key (ties broken by descending LSN).
func NewSliceSource(entries []Entry) *SliceSource { return &SliceSource{entries: entries} }

func (s *SliceSource) Next() (Entry, bool) {
	if s.pos >= len(s.entries) {
		return Entry{}, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true
}

type heapItem struct {
	entry  Entry
	srcIdx int
	src    Source
}

type entryHeap []*heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if c := base.Compare(h[i].entry.Key, h[j].entry.Key); c != 0 {
		return c < 0
	}
	if h[i].entry.LSN != h[j].entry.LSN {
		return h[i].entry.LSN > h[j].entry.LSN
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MergeIterator is a min-heap keyed by (key ASC, LSN DESC) over one head
// element per source. Sources should be supplied newest-first so that ties
// on (key, lsn) are broken in the newer source's favor.
type MergeIterator struct {
	h entryHeap
}

// NewMergeIterator seeds the heap with one head element per non-empty
// source.
func NewMergeIterator(sources []Source) *MergeIterator {
	h := make(entryHeap, 0, len(sources))
	for i, s := range sources {
		if e, ok := s.Next(); ok {
			h = append(h, &heapItem{entry: e, srcIdx: i, src: s})
		}
	}
	heap.Init(&h)
	return &MergeIterator{h: h}
}

// Next pops the globally smallest-key, largest-LSN element and advances
// its source, reinserting its new head if any remains.
func (m *MergeIterator) Next() (Entry, bool) {
	if m.h.Len() == 0 {
		return Entry{}, false
	}
	top := heap.Pop(&m.h).(*heapItem)
	result := top.entry
	if next, ok := top.src.Next(); ok {
		top.entry = next
		heap.Push(&m.h, top)
	}
	return result, true
}

// keyIsCovered reports whether any tombstone in tombstones both covers
// key and has a higher LSN than lsn.
func keyIsCovered(key []byte, lsn base.LSN, tombstones []RangeTombstone) bool {
	for _, t := range tombstones {
		if t.LSN > lsn && base.Compare(key, t.Start) >= 0 && base.Compare(key, t.End) < 0 {
			return true
		}
	}
	return false
}

// KV is a resolved, visible point value.
type KV struct {
	Key   []byte
	Value []byte
}

// FilterVisible drains mi, keeping only the highest-LSN entry per key
// (guaranteed to be the first of a run of same-key entries the heap
// yields), dropping Delete entries, and dropping Put entries covered by a
// higher-LSN range tombstone — the visibility filter applied by scan.
func FilterVisible(mi *MergeIterator, tombstones []RangeTombstone) []KV {
	var out []KV
	var lastKey []byte
	haveLast := false
	for {
		e, ok := mi.Next()
		if !ok {
			break
		}
		if haveLast && base.Compare(e.Key, lastKey) == 0 {
			continue // not the highest-LSN version of this key
		}
		lastKey, haveLast = e.Key, true
		if e.Delete {
			continue
		}
		if keyIsCovered(e.Key, e.LSN, tombstones) {
			continue
		}
		out = append(out, KV{Key: e.Key, Value: e.Value})
	}
	return out
}
