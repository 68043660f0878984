package compaction

import (
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// pointTombstoneDroppable implements the point-tombstone drop rule:
// droppable iff no bloom filter of any other live SST reports key
// as possibly present. With TombstoneBloomFallback, a "maybe present" hit
// is resolved with an actual Get, dropping only if the key is truly
// absent everywhere else.
func pointTombstoneDroppable(key []byte, others []*sstable.Reader, p Policy) bool {
	for _, r := range others {
		bloom := r.Bloom()
		if bloom != nil && !bloom.MayContain(key) {
			continue
		}
		if !p.TombstoneBloomFallback {
			return false
		}
		res, err := r.Get(key)
		if err != nil || res.Found {
			return false
		}
	}
	return true
}

// rangeTombstoneDroppable implements the range-tombstone drop rule:
// droppable iff no other live SST has live data overlapping
// [start, end). The heuristic checks the bloom filter on start; with
// TombstoneRangeDrop, it additionally probes via a per-SST scan.
func rangeTombstoneDroppable(start, end []byte, others []*sstable.Reader, p Policy) bool {
	for _, r := range others {
		bloom := r.Bloom()
		if bloom != nil && !bloom.MayContain(start) {
			continue
		}
		if !p.TombstoneRangeDrop {
			return false
		}
		entries, err := r.Scan(start, end)
		if err != nil || len(entries) > 0 {
			return false
		}
	}
	return true
}

// ExecuteTombstoneRewrite rewrites target, dropping tombstones that are
// provably droppable against the other live SSTs. It returns the number
// of records dropped alongside the rewrite result: if the caller sees
// zero dropped, it should skip the rewrite entirely; if Result.NoOutput is
// set, every record was dropped and the caller should remove the SST
// outright rather than publish an empty replacement.
func ExecuteTombstoneRewrite(fs vfs.FS, dir string, outputID uint64, creationTimeNs int64, target *sstable.Reader, others []*sstable.Reader, p Policy) (Result, int, error) {
	raw, err := target.ScanAll()
	if err != nil {
		return Result{}, 0, err
	}

	var entries []Entry
	var tombstones []RangeTombstone
	dropped := 0
	for _, e := range raw {
		if e.Tombstone != nil {
			t := e.Tombstone
			if rangeTombstoneDroppable(t.Start, t.End, others, p) {
				dropped++
				continue
			}
			tombstones = append(tombstones, RangeTombstone{Start: t.Start, End: t.End, LSN: t.LSN, Ts: t.Ts})
			continue
		}
		if e.Delete && pointTombstoneDroppable(e.Key, others, p) {
			dropped++
			continue
		}
		entries = append(entries, Entry{Key: e.Key, Value: e.Value, Delete: e.Delete, LSN: e.LSN, Ts: e.Ts})
	}

	if dropped == 0 {
		return Result{NoOutput: false}, 0, nil
	}
	if len(entries) == 0 && len(tombstones) == 0 {
		return Result{NoOutput: true}, dropped, nil
	}
	out, err := WriteSST(fs, dir, outputID, creationTimeNs, entries, tombstones)
	if err != nil {
		return Result{}, 0, err
	}
	return Result{Output: out}, dropped, nil
}
