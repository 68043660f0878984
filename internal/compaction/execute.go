package compaction

import (
	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// readerEntries splits a reader's full contents into point entries and
// range tombstones, in this package's Entry/RangeTombstone shape.
func readerEntries(r *sstable.Reader) ([]Entry, []RangeTombstone, error) {
	raw, err := r.ScanAll()
	if err != nil {
		return nil, nil, err
	}
	var points []Entry
	var tombstones []RangeTombstone
	for _, e := range raw {
		if e.Tombstone != nil {
			tombstones = append(tombstones, RangeTombstone{
				Start: e.Tombstone.Start, End: e.Tombstone.End,
				LSN: e.Tombstone.LSN, Ts: e.Tombstone.Ts,
			})
			continue
		}
		points = append(points, Entry{Key: e.Key, Value: e.Value, Delete: e.Delete, LSN: e.LSN, Ts: e.Ts})
	}
	return points, tombstones, nil
}

// DedupMinor merges sources keeping only the highest-LSN version of each
// key, preserving Put and Delete entries alike: minor compaction keeps all
// point tombstones and all range tombstones intact.
func DedupMinor(sources []Source) []Entry {
	mi := NewMergeIterator(sources)
	var out []Entry
	var lastKey []byte
	haveLast := false
	for {
		e, ok := mi.Next()
		if !ok {
			break
		}
		if haveLast && base.Compare(e.Key, lastKey) == 0 {
			continue
		}
		lastKey, haveLast = append([]byte(nil), e.Key...), true
		out = append(out, e)
	}
	return out
}

// DedupMajor merges sources, drops all Delete entries, and drops any Put
// covered by a strictly-higher-LSN range tombstone.
func DedupMajor(sources []Source, tombstones []RangeTombstone) []Entry {
	mi := NewMergeIterator(sources)
	var out []Entry
	var lastKey []byte
	haveLast := false
	for {
		e, ok := mi.Next()
		if !ok {
			break
		}
		if haveLast && base.Compare(e.Key, lastKey) == 0 {
			continue
		}
		lastKey, haveLast = append([]byte(nil), e.Key...), true
		if e.Delete {
			continue
		}
		if keyIsCovered(e.Key, e.LSN, tombstones) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// WriteSST builds a new SST at id from pre-sorted entries and tombstones.
// entries must already be in ascending key order (both dedup functions
// above guarantee this).
func WriteSST(fs vfs.FS, dir string, id uint64, creationTimeNs int64, entries []Entry, tombstones []RangeTombstone) (*sstable.Reader, error) {
	w, err := sstable.NewWriter(fs, dir, id, creationTimeNs)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Add(e.Key, e.Value, e.Ts, e.LSN, e.Delete); err != nil {
			return nil, err
		}
	}
	for _, t := range tombstones {
		w.AddRangeTombstone(t.Start, t.End, t.Ts, t.LSN)
	}
	return w.Finish()
}

// Result summarizes one compaction Phase B execution.
type Result struct {
	Output   *sstable.Reader
	NoOutput bool // true when there was nothing left to write; inputs are simply removed
}

// ExecuteMinor runs Phase B of a size-tiered minor compaction over inputs,
// producing a single output SST at outputID.
func ExecuteMinor(fs vfs.FS, dir string, outputID uint64, creationTimeNs int64, inputs []*sstable.Reader) (Result, error) {
	sources := make([]Source, len(inputs))
	var tombstones []RangeTombstone
	for i, r := range inputs {
		points, rts, err := readerEntries(r)
		if err != nil {
			return Result{}, err
		}
		sources[i] = NewSliceSource(points)
		tombstones = append(tombstones, rts...)
	}
	deduped := DedupMinor(sources)
	if len(deduped) == 0 && len(tombstones) == 0 {
		return Result{NoOutput: true}, nil
	}
	out, err := WriteSST(fs, dir, outputID, creationTimeNs, deduped, tombstones)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: out}, nil
}

// ExecuteMajor runs a major compaction over every live SST: range
// tombstones are applied but not preserved in the output.
func ExecuteMajor(fs vfs.FS, dir string, outputID uint64, creationTimeNs int64, inputs []*sstable.Reader) (Result, error) {
	sources := make([]Source, len(inputs))
	var tombstones []RangeTombstone
	for i, r := range inputs {
		points, rts, err := readerEntries(r)
		if err != nil {
			return Result{}, err
		}
		sources[i] = NewSliceSource(points)
		tombstones = append(tombstones, rts...)
	}
	deduped := DedupMajor(sources, tombstones)
	if len(deduped) == 0 {
		return Result{NoOutput: true}, nil
	}
	out, err := WriteSST(fs, dir, outputID, creationTimeNs, deduped, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: out}, nil
}
