// Package memtable implements the in-memory multi-version write buffer: a
// sorted point index, a sorted range-tombstone index, an owned WAL, and the
// write/read protocols that resolve versions within one layer.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/wal"
)

// entryOverhead approximates the bookkeeping cost of one memtable entry
// beyond its raw key/value bytes, used by the write-buffer size check.
const entryOverhead = 32

// ErrFlushRequired is returned by a write when it would push the memtable
// past its configured write-buffer size. No WAL append and no in-memory
// mutation happen when this is returned.
var ErrFlushRequired = errors.New("memtable: write buffer full, flush required")

// PointEntry is a single version of a key: either a Put or a Delete.
type PointEntry struct {
	Kind  base.Kind
	Value []byte
	LSN   base.LSN
	Ts    int64
}

// RangeTombstone is a deletion marker over [Start, End).
type RangeTombstone struct {
	Start, End []byte
	LSN        base.LSN
	Ts         int64
}

type pointItem struct {
	key      []byte
	versions []PointEntry // appended in ascending LSN order
}

func pointLess(a, b *pointItem) bool { return base.Compare(a.key, b.key) < 0 }

type rangeItem struct {
	start    []byte
	versions []RangeTombstone // appended in ascending LSN order
}

func rangeLess(a, b *rangeItem) bool { return base.Compare(a.start, b.start) < 0 }

// Memtable is the active, mutable write buffer. It owns one WAL and is
// safe for concurrent readers and a single logical writer.
type Memtable struct {
	mu sync.RWMutex

	points *btree.BTreeG[*pointItem]
	ranges *btree.BTreeG[*rangeItem]

	wal             *wal.WAL[base.Record]
	nextLSN         atomic.Uint64 // next LSN to assign
	approxSize      uint64
	writeBufferSize uint64
}

// New creates an empty memtable backed by w, ready to accept writes.
func New(w *wal.WAL[base.Record], writeBufferSize uint64) *Memtable {
	m := &Memtable{
		points:          btree.NewG(16, pointLess),
		ranges:          btree.NewG(16, rangeLess),
		wal:             w,
		writeBufferSize: writeBufferSize,
	}
	m.nextLSN.Store(1)
	return m
}

// WAL returns the memtable's owned WAL.
func (m *Memtable) WAL() *wal.WAL[base.Record] { return m.wal }

// ApproximateSize returns the sum of key+value bytes plus per-entry
// overhead currently held.
func (m *Memtable) ApproximateSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approxSize
}

// InjectMaxLSN seeds the LSN counter after recovery so that the next
// assigned LSN continues strictly after lsn. It must be
// called before the first post-recovery write.
func (m *Memtable) InjectMaxLSN(lsn base.LSN) {
	for {
		cur := m.nextLSN.Load()
		want := uint64(lsn) + 1
		if want <= cur {
			return
		}
		if m.nextLSN.CompareAndSwap(cur, want) {
			return
		}
	}
}

// MaxLSN returns next_lsn - 1, the highest LSN assigned so far (0 if none).
func (m *Memtable) MaxLSN() base.LSN {
	n := m.nextLSN.Load()
	if n == 0 {
		return 0
	}
	return base.LSN(n - 1)
}

func entrySize(rec base.Record) uint64 {
	switch rec.Kind {
	case base.KindPut:
		return uint64(len(rec.Key)+len(rec.Value)) + entryOverhead
	case base.KindDelete:
		return uint64(len(rec.Key)) + entryOverhead
	case base.KindRangeDelete:
		return uint64(len(rec.Start)+len(rec.End)) + entryOverhead
	}
	return entryOverhead
}

// write executes the four-step write protocol: assign LSN, check the
// write-buffer bound, append to the WAL, then apply to the in-memory
// structure.
func (m *Memtable) write(rec base.Record) (base.LSN, error) {
	m.mu.Lock()
	lsn := base.LSN(m.nextLSN.Add(1) - 1)
	rec.LSN = lsn
	size := entrySize(rec)
	if m.approxSize+size > m.writeBufferSize {
		m.mu.Unlock()
		return 0, ErrFlushRequired
	}
	if err := m.wal.Append(rec); err != nil {
		m.mu.Unlock()
		return 0, errors.Wrap(err, "memtable: wal append")
	}
	m.apply(rec)
	m.approxSize += size
	m.mu.Unlock()
	return lsn, nil
}

// apply mutates the in-memory structures. Caller must hold mu.
func (m *Memtable) apply(rec base.Record) {
	switch rec.Kind {
	case base.KindPut, base.KindDelete:
		probe := &pointItem{key: rec.Key}
		item, ok := m.points.Get(probe)
		if !ok {
			item = &pointItem{key: append([]byte(nil), rec.Key...)}
			m.points.ReplaceOrInsert(item)
		}
		entry := PointEntry{LSN: rec.LSN, Ts: rec.Ts}
		if rec.Kind == base.KindPut {
			entry.Kind = base.KindPut
			entry.Value = rec.Value
		} else {
			entry.Kind = base.KindDelete
		}
		item.versions = append(item.versions, entry)
	case base.KindRangeDelete:
		probe := &rangeItem{start: rec.Start}
		item, ok := m.ranges.Get(probe)
		if !ok {
			item = &rangeItem{start: append([]byte(nil), rec.Start...)}
			m.ranges.ReplaceOrInsert(item)
		}
		item.versions = append(item.versions, RangeTombstone{
			Start: rec.Start, End: rec.End, LSN: rec.LSN, Ts: rec.Ts,
		})
	}
}

// Apply is the recovery-path counterpart of write: it re-applies a record
// already durable in the WAL without re-appending or re-checking the
// buffer bound, and advances the LSN counter to at least rec.LSN.
func (m *Memtable) Apply(rec base.Record) {
	m.mu.Lock()
	m.apply(rec)
	m.approxSize += entrySize(rec)
	m.mu.Unlock()
	m.InjectMaxLSN(rec.LSN)
}

// Put durably records key=value and makes it visible, or returns
// ErrFlushRequired if the memtable is full.
func (m *Memtable) Put(key, value []byte, ts int64) (base.LSN, error) {
	return m.write(base.Record{Kind: base.KindPut, Key: key, Value: value, Ts: ts})
}

// Delete durably records a point tombstone for key.
func (m *Memtable) Delete(key []byte, ts int64) (base.LSN, error) {
	return m.write(base.Record{Kind: base.KindDelete, Key: key, Ts: ts})
}

// DeleteRange durably records a range tombstone over [start, end).
func (m *Memtable) DeleteRange(start, end []byte, ts int64) (base.LSN, error) {
	return m.write(base.Record{Kind: base.KindRangeDelete, Start: start, End: end, Ts: ts})
}

// rangeTombstoneAt returns the highest-LSN range tombstone covering key, if
// any.
func (m *Memtable) rangeTombstoneAt(key []byte) (RangeTombstone, bool) {
	var best RangeTombstone
	found := false
	m.ranges.DescendLessOrEqual(&rangeItem{start: key}, func(it *rangeItem) bool {
		for _, v := range it.versions {
			if base.Compare(key, v.Start) >= 0 && base.Compare(key, v.End) < 0 {
				if !found || v.LSN > best.LSN {
					best = v
					found = true
				}
			}
		}
		return true
	})
	return best, found
}

// Get resolves a point read within this memtable per Table T1.
func (m *Memtable) Get(key []byte) base.PointResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		hasPoint bool
		point    PointEntry
	)
	if item, ok := m.points.Get(&pointItem{key: key}); ok && len(item.versions) > 0 {
		point = item.versions[len(item.versions)-1]
		hasPoint = true
	}
	tomb, hasTomb := m.rangeTombstoneAt(key)

	switch {
	case !hasPoint && !hasTomb:
		return base.NotFound
	case !hasPoint:
		return base.PointResult{Found: true, Kind: base.KindRangeDelete, LSN: tomb.LSN}
	case hasTomb && tomb.LSN > point.LSN:
		return base.PointResult{Found: true, Kind: base.KindRangeDelete, LSN: tomb.LSN}
	default:
		return base.PointResult{Found: true, Kind: point.Kind, Value: point.Value, LSN: point.LSN}
	}
}

// ScanEntry is one raw record yielded by Scan: either a point version or a
// range tombstone, without any cross-layer visibility filtering.
type ScanEntry struct {
	Key       []byte // point entries only
	Point     *PointEntry
	Tombstone *RangeTombstone
}

// Scan yields all point versions in [start, end), sorted (key ASC, LSN
// DESC), followed by the range tombstones intersecting it. No tombstone
// filtering is applied here.
func (m *Memtable) Scan(start, end []byte) []ScanEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ScanEntry
	m.points.AscendRange(&pointItem{key: start}, &pointItem{key: end}, func(it *pointItem) bool {
		for i := len(it.versions) - 1; i >= 0; i-- {
			v := it.versions[i]
			out = append(out, ScanEntry{Key: it.key, Point: &v})
		}
		return true
	})
	m.ranges.AscendLessThan(&rangeItem{start: end}, func(it *rangeItem) bool {
		for i := len(it.versions) - 1; i >= 0; i-- {
			v := it.versions[i]
			if base.Compare(v.End, start) > 0 {
				out = append(out, ScanEntry{Tombstone: &v})
			}
		}
		return true
	})
	return out
}

// FlushEntry is what iter_for_flush yields: the single highest-LSN point
// version for a key, or a range tombstone.
type FlushEntry struct {
	Key       []byte
	Point     *PointEntry
	Tombstone *RangeTombstone
}

// IterForFlush returns, per key, only the highest-LSN point entry plus
// every range tombstone — the exact input a flush needs to build one SST.
// It does not mutate the memtable.
func (m *Memtable) IterForFlush() []FlushEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FlushEntry
	m.points.Ascend(func(it *pointItem) bool {
		if len(it.versions) == 0 {
			return true
		}
		v := it.versions[len(it.versions)-1]
		out = append(out, FlushEntry{Key: it.key, Point: &v})
		return true
	})
	m.ranges.Ascend(func(it *rangeItem) bool {
		for i := range it.versions {
			v := it.versions[i]
			out = append(out, FlushEntry{Tombstone: &v})
		}
		return true
	})
	return out
}

// IsEmpty reports whether the memtable holds no point entries and no
// range tombstones.
func (m *Memtable) IsEmpty() bool {
	return len(m.IterForFlush()) == 0
}

// Frozen is a read-only view of a memtable that has been consumed by
// Freeze. It still serves Get and Scan and retains ownership of the WAL
// until the flush SST built from it is published.
type Frozen struct {
	inner *Memtable
}

// Freeze consumes m and returns a read-only Frozen view. The caller must
// not write to m again.
func Freeze(m *Memtable) *Frozen { return &Frozen{inner: m} }

func (f *Frozen) Get(key []byte) base.PointResult    { return f.inner.Get(key) }
func (f *Frozen) Scan(start, end []byte) []ScanEntry { return f.inner.Scan(start, end) }
func (f *Frozen) IterForFlush() []FlushEntry         { return f.inner.IterForFlush() }
func (f *Frozen) WAL() *wal.WAL[base.Record]         { return f.inner.wal }
func (f *Frozen) MaxLSN() base.LSN                   { return f.inner.MaxLSN() }
func (f *Frozen) IsEmpty() bool {
	return len(f.IterForFlush()) == 0
}
