package aeternusdb

import (
	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/compaction"
	"github.com/kamil-kielbasa/aeternusdb/internal/memtable"
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
)

// KV is one visible (key, value) pair yielded by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// memtableScanSource adapts a memtable's (or frozen memtable's) raw scan
// output into the point-entry-only, tombstones-collected shape
// internal/compaction's merge iterator consumes.
func memtableScanSource(raw []memtable.ScanEntry) ([]compaction.Entry, []compaction.RangeTombstone) {
	var entries []compaction.Entry
	var tombstones []compaction.RangeTombstone
	for _, se := range raw {
		switch {
		case se.Point != nil:
			entries = append(entries, compaction.Entry{
				Key:    se.Key,
				Value:  se.Point.Value,
				Delete: se.Point.Kind != 0, // base.KindPut == 0
				LSN:    se.Point.LSN,
				Ts:     se.Point.Ts,
			})
		case se.Tombstone != nil:
			tombstones = append(tombstones, compaction.RangeTombstone{
				Start: se.Tombstone.Start, End: se.Tombstone.End,
				LSN: se.Tombstone.LSN, Ts: se.Tombstone.Ts,
			})
		}
	}
	return entries, tombstones
}

// sstScanSource adapts an SST's raw scan output the same way. An SST holds
// at most one version per key, so no per-key LSN ordering is needed within
// one source.
func sstScanSource(raw []sstable.ScanEntry) ([]compaction.Entry, []compaction.RangeTombstone) {
	var entries []compaction.Entry
	var tombstones []compaction.RangeTombstone
	for _, se := range raw {
		if se.Tombstone != nil {
			tombstones = append(tombstones, compaction.RangeTombstone{
				Start: se.Tombstone.Start, End: se.Tombstone.End,
				LSN: se.Tombstone.LSN, Ts: se.Tombstone.Ts,
			})
			continue
		}
		entries = append(entries, compaction.Entry{
			Key: se.Key, Value: se.Value, Delete: se.Delete, LSN: se.LSN, Ts: se.Ts,
		})
	}
	return entries, tombstones
}

// Scan returns every visible (key, value) pair with key in [start, end),
// in ascending key order. It holds the
// engine's shared lock for its entire duration, giving the result a
// consistent point-in-time view without per-SST reference counting: no
// concurrently running compaction can retire an SST the scan is reading,
// since compaction's install phase needs the exclusive half of the same
// lock.
func (e *Engine) Scan(start, end []byte) ([]KV, error) {
	// scan's precondition is start <= end (unlike delete_range's
	// strict start < end) — scan(K, K) is valid and yields an empty result.
	if len(start) == 0 || len(end) == 0 || base.Compare(start, end) > 0 {
		return nil, ErrInvalidRange
	}
	if base.Compare(start, end) == 0 {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.closed {
			return nil, ErrClosed
		}
		return nil, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	var sources []compaction.Source
	var tombstones []compaction.RangeTombstone

	addSource := func(entries []compaction.Entry, ts []compaction.RangeTombstone) {
		sources = append(sources, compaction.NewSliceSource(entries))
		tombstones = append(tombstones, ts...)
	}

	activeEntries, activeTs := memtableScanSource(e.active.Scan(start, end))
	addSource(activeEntries, activeTs)

	for i := len(e.frozen) - 1; i >= 0; i-- {
		fe, ft := memtableScanSource(e.frozen[i].frozen.Scan(start, end))
		addSource(fe, ft)
	}

	for _, s := range e.ssts {
		raw, err := s.Scan(start, end)
		if err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: scan sst %d", s.ID())
		}
		se, st := sstScanSource(raw)
		addSource(se, st)
	}

	mi := compaction.NewMergeIterator(sources)
	visible := compaction.FilterVisible(mi, tombstones)

	out := make([]KV, len(visible))
	for i, kv := range visible {
		out[i] = KV{Key: kv.Key, Value: kv.Value}
	}
	return out, nil
}
