// Package aeternusdb implements a single-node, embeddable, persistent,
// ordered key-value storage engine on the log-structured-merge design: a
// write-ahead-logged memtable, immutable sorted tables on disk, a durable
// manifest, and a background size-tiered compaction pipeline.
package aeternusdb

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/manifest"
	"github.com/kamil-kielbasa/aeternusdb/internal/memtable"
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
	"github.com/kamil-kielbasa/aeternusdb/internal/taskpump"
	"github.com/kamil-kielbasa/aeternusdb/internal/wal"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

const (
	manifestDirName  = "manifest"
	memtablesDirName = "memtables"
	sstablesDirName  = "sstables"

	// defaultMaxRecordSize bounds a single memtable WAL frame. It is
	// independent of WriteBufferSize: one key/value pair may approach the
	// whole buffer even though the buffer holds many small entries.
	defaultMaxRecordSize = 64 << 20
)

// frozenEntry pairs a read-only frozen memtable with the id of the WAL it
// still owns, needed to address the manifest's frozen_wal_ids list and to
// name the WAL file once the flush that consumes it completes.
type frozenEntry struct {
	frozen *memtable.Frozen
	walID  uint64
}

// Engine is a single, thread-safe instance of the storage engine. Reads
// take its shared lock; writes and compaction installs take it exclusive
// briefly.
type Engine struct {
	dir    string
	fs     vfs.FS
	clock  vfs.Clock
	config *Config

	mu sync.RWMutex

	manifest *manifest.Manifest
	active   *memtable.Memtable
	frozen   []frozenEntry

	ssts   []*sstable.Reader
	sstIdx map[uint64]*sstable.Reader

	// compacting holds the ids of SSTs currently selected as inputs to an
	// in-flight compaction job, preventing double-selection. Mutated only
	// while e.mu is held exclusively.
	compacting map[uint64]bool

	pump *taskpump.Pool

	metricsMu sync.Mutex
	metrics   Metrics

	closed bool
}

// Metrics is a read-only snapshot of engine activity, supplementing the
// core spec with the observability surface a complete embeddable engine
// carries (no exporter is wired; see DESIGN.md).
type Metrics struct {
	NumSSTs              int
	NumMemtables         int // active + frozen
	PendingCompactions   int
	BytesFlushed         uint64
	FlushCount           uint64
	MinorCompactions     uint64
	TombstoneCompactions uint64
	MajorCompactions     uint64
}

// Open opens or creates the engine rooted at dir. Config may be nil, in
// which case NewConfig's defaults apply.
func Open(dir string, config *Config) (*Engine, error) {
	return openWith(vfs.Default, vfs.SystemClock, dir, config)
}

// openWith is Open with an injectable FS/Clock, used by tests to run the
// full recovery protocol against an in-memory filesystem.
func openWith(fs vfs.FS, clock vfs.Clock, dir string, config *Config) (*Engine, error) {
	if config == nil {
		config = NewConfig()
	}
	config = config.EnsureDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = clock
	}
	clock = config.Clock

	manifestDir := fs.PathJoin(dir, manifestDirName)
	memtablesDir := fs.PathJoin(dir, memtablesDirName)
	sstablesDir := fs.PathJoin(dir, sstablesDirName)
	for _, d := range []string{manifestDir, memtablesDir, sstablesDir} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: mkdir %q", d)
		}
	}

	mf, err := manifest.Open(fs, manifestDir)
	if err != nil {
		return nil, errors.Wrap(err, "aeternusdb: open manifest")
	}
	state := mf.State()

	e := &Engine{
		dir: dir, fs: fs, clock: clock, config: config,
		manifest:   mf,
		sstIdx:     map[uint64]*sstable.Reader{},
		compacting: map[uint64]bool{},
	}

	var globalMax base.LSN = state.LastLSN

	// Step 3: open every SST the manifest still references.
	for _, entry := range state.Ssts {
		r, err := sstable.Open(fs, entry.Path, entry.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: open sst %d", entry.ID)
		}
		e.ssts = append(e.ssts, r)
		e.sstIdx[entry.ID] = r
		if r.MaxLSN() > globalMax {
			globalMax = r.MaxLSN()
		}
	}
	sortSstsByMaxLSNDesc(e.ssts)

	// Step 4: rebuild every frozen memtable by replaying its WAL.
	for _, walID := range state.FrozenWalIDs {
		fm, maxLSN, err := recoverMemtable(fs, memtablesDir, walID, config.WriteBufferSize)
		if err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: recover frozen wal %d", walID)
		}
		e.frozen = append(e.frozen, frozenEntry{frozen: memtable.Freeze(fm), walID: walID})
		if maxLSN > globalMax {
			globalMax = maxLSN
		}
	}

	// Step 5: open (or create) the active memtable.
	activeID := state.ActiveWalID
	var activeWAL *wal.WAL[base.Record]
	if activeID == 0 {
		activeID = 1
		activeWAL, err = wal.Create[base.Record](fs, memtablesDir, activeID, defaultMaxRecordSize, base.RecordCodec{})
		if err != nil {
			return nil, errors.Wrap(err, "aeternusdb: create active wal")
		}
		if err := mf.SetActiveWal(activeID); err != nil {
			return nil, err
		}
		e.active = memtable.New(activeWAL, config.WriteBufferSize)
	} else {
		activeMt, maxLSN, err := recoverMemtable(fs, memtablesDir, activeID, config.WriteBufferSize)
		if err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: recover active wal %d", activeID)
		}
		e.active = activeMt
		if maxLSN > globalMax {
			globalMax = maxLSN
		}
	}
	if e.active.MaxLSN() > globalMax {
		globalMax = e.active.MaxLSN()
	}

	// Step 6: orphan cleanup — delete any sstables/ file not referenced.
	if err := e.cleanOrphanSSTs(sstablesDir, state); err != nil {
		return nil, err
	}

	// Step 7: reconcile the LSN counter across every layer.
	e.active.InjectMaxLSN(globalMax)
	if err := mf.UpdateLsn(globalMax); err != nil {
		return nil, err
	}

	e.pump = taskpump.New(config.ThreadPoolSize)
	return e, nil
}

// recoverMemtable opens walID in dir, replays every record into a fresh
// memtable, and returns the memtable plus the highest LSN observed.
func recoverMemtable(fs vfs.FS, dir string, walID uint64, writeBufferSize uint64) (*memtable.Memtable, base.LSN, error) {
	w, err := wal.Open[base.Record](fs, dir, walID, defaultMaxRecordSize, base.RecordCodec{})
	if err != nil {
		return nil, 0, err
	}
	records, err := w.Replay()
	if err != nil {
		return nil, 0, err
	}
	m := memtable.New(w, writeBufferSize)
	for _, rec := range records {
		m.Apply(rec)
	}
	return m, m.MaxLSN(), nil
}

func (e *Engine) cleanOrphanSSTs(sstablesDir string, state manifest.State) error {
	names, err := e.fs.List(sstablesDir)
	if err != nil {
		return errors.Wrap(err, "aeternusdb: list sstables dir")
	}
	referenced := map[string]bool{}
	for _, entry := range state.Ssts {
		referenced[entry.Path] = true
	}
	for _, name := range names {
		if len(name) < 4 {
			continue
		}
		isSst := hasSuffix(name, ".sst")
		isTmp := hasSuffix(name, ".tmp")
		if !isSst && !isTmp {
			continue
		}
		path := e.fs.PathJoin(sstablesDir, name)
		if isTmp || !referenced[path] {
			e.config.Logger.Infof("aeternusdb: removing orphan sst file %q", path)
			if err := e.fs.Remove(path); err != nil {
				return errors.Wrapf(err, "aeternusdb: remove orphan %q", path)
			}
		}
	}
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func sortSstsByMaxLSNDesc(ssts []*sstable.Reader) {
	sort.Slice(ssts, func(i, j int) bool { return ssts[i].MaxLSN() > ssts[j].MaxLSN() })
}

// Put durably writes key=value, returning once the mutation is fsync'd.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err := e.writeLocked(func(m *memtable.Memtable) (base.LSN, error) {
		return m.Put(key, value, e.clock.Now())
	})
	return err
}

// Delete durably records a point tombstone for key.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err := e.writeLocked(func(m *memtable.Memtable) (base.LSN, error) {
		return m.Delete(key, e.clock.Now())
	})
	return err
}

// DeleteRange durably records a tombstone covering every key in
// [start, end).
func (e *Engine) DeleteRange(start, end []byte) error {
	if len(start) == 0 || len(end) == 0 || base.Compare(start, end) >= 0 {
		return ErrInvalidRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err := e.writeLocked(func(m *memtable.Memtable) (base.LSN, error) {
		return m.DeleteRange(start, end, e.clock.Now())
	})
	return err
}

// writeLocked runs attempt against the active memtable, rotating to a
// fresh memtable and enqueueing a flush if the buffer is full. Caller
// holds e.mu.
func (e *Engine) writeLocked(attempt func(*memtable.Memtable) (base.LSN, error)) (base.LSN, error) {
	lsn, err := attempt(e.active)
	if err == nil {
		return lsn, nil
	}
	if !errors.Is(err, memtable.ErrFlushRequired) {
		return 0, err
	}
	if err := e.rotateActiveLocked(); err != nil {
		return 0, err
	}
	return attempt(e.active)
}

// Get returns the current value for key, or ErrNotFound if it has no live
// value. Resolution scans newest-first across the active memtable, frozen
// memtables, and SSTs by max_lsn descending, with early termination.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	var best base.PointResult
	haveBest := false
	consider := func(r base.PointResult) {
		if r.Found && (!haveBest || r.LSN > best.LSN) {
			best, haveBest = r, true
		}
	}

	consider(e.active.Get(key))
	for i := len(e.frozen) - 1; i >= 0; i-- {
		consider(e.frozen[i].frozen.Get(key))
	}
	for _, s := range e.ssts {
		if haveBest && s.MaxLSN() <= best.LSN {
			break
		}
		res, err := s.Get(key)
		if err != nil {
			return nil, errors.Wrapf(err, "aeternusdb: get from sst %d", s.ID())
		}
		consider(res)
	}

	if !haveBest || best.Kind != base.KindPut {
		return nil, ErrNotFound
	}
	return best.Value, nil
}

// NeedsCheckpoint reports whether the manifest has unpersisted events
// since its last checkpoint (the same dirty flag maybeCheckpointLocked
// reads after each flush or compaction install to decide whether to
// checkpoint).
func (e *Engine) NeedsCheckpoint() bool {
	return e.manifest.Dirty()
}

// DiskUsage returns the total bytes currently occupied by WAL and SST
// files (teacher: pebble.DB.Metrics's disk-space accounting).
func (e *Engine) DiskUsage() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total uint64
	walSize := func(w *wal.WAL[base.Record]) error {
		fi, err := e.fs.Stat(w.Path())
		if err != nil {
			return err
		}
		total += uint64(fi.Size())
		return nil
	}
	if err := walSize(e.active.WAL()); err != nil {
		return 0, err
	}
	for _, fe := range e.frozen {
		if err := walSize(fe.frozen.WAL()); err != nil {
			return 0, err
		}
	}
	for _, s := range e.ssts {
		sz, err := s.FileSize()
		if err != nil {
			return 0, err
		}
		total += uint64(sz)
	}
	return total, nil
}

// Metrics returns a snapshot of engine activity counters.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	numSsts := len(e.ssts)
	numMemtables := len(e.frozen) + 1
	pending := len(e.compacting)
	e.mu.RUnlock()

	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	m := e.metrics
	m.NumSSTs = numSsts
	m.NumMemtables = numMemtables
	m.PendingCompactions = pending
	return m
}

// Close quiesces the task pump, flushes every memtable, checkpoints the
// manifest, and releases all file handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	// Quiesce the pump before reacquiring e.mu: a queued flushTask or
	// maybeCompactTask blocks on e.mu itself, so waiting for the pump to
	// drain while holding e.mu would deadlock.
	e.pump.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flushAllLocked(); err != nil {
		return errors.Wrap(err, "aeternusdb: flush on close")
	}
	if err := e.manifest.Close(); err != nil {
		return errors.Wrap(err, "aeternusdb: close manifest")
	}
	if err := e.active.WAL().Close(); err != nil {
		return errors.Wrap(err, "aeternusdb: close active wal")
	}
	for _, s := range e.ssts {
		if err := s.Close(); err != nil {
			return errors.Wrap(err, "aeternusdb: close sst")
		}
	}
	if dir, err := e.fs.OpenDir(e.dir); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
