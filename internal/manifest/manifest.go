// Package manifest implements the durable metadata authority: a WAL of
// events plus a periodic snapshot tracking live SSTs, WAL segments, the
// global LSN, and the SST id counter.
package manifest

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/wal"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// eventLogSeq is the fixed sequence number of the manifest's own event
// log. Unlike memtable WALs, the event log is never rotated — it is
// truncated back to header-only by Checkpoint instead.
const eventLogSeq = 0

const maxEventSize = 1 << 20

// SstEntry is one live SST reference held in the manifest state.
type SstEntry struct {
	ID   uint64
	Path string
}

// State is the full manifest state: version, last_lsn, active_wal_id,
// frozen_wal_ids, live ssts, next_sst_id, and the dirty flag.
type State struct {
	Version      uint64
	LastLSN      base.LSN
	ActiveWalID  uint64
	FrozenWalIDs []uint64
	Ssts         []SstEntry
	NextSstID    uint64
	Dirty        bool
}

func (s State) clone() State {
	c := s
	c.FrozenWalIDs = append([]uint64(nil), s.FrozenWalIDs...)
	c.Ssts = append([]SstEntry(nil), s.Ssts...)
	return c
}

func containsUint64(xs []uint64, v uint64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func removeUint64(xs []uint64, v uint64) []uint64 {
	out := xs[:0]
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func sstIndex(entries []SstEntry, id uint64) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Manifest is the metadata authority: a state guarded by a mutex, backed
// by an event WAL and a periodically-written snapshot file.
type Manifest struct {
	fs  vfs.FS
	dir string

	mu    sync.Mutex
	state State
	log   *wal.WAL[Event]

	nextSnapshotSeq uint64
}

// Open loads the latest valid snapshot (if any) from dir, then replays the
// manifest event WAL on top of it. A snapshot with a bad checksum aborts
// recovery rather than being ignored.
func Open(fs vfs.FS, dir string) (*Manifest, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "manifest: mkdir %q", dir)
	}

	snapshot, snapSeq, err := loadLatestSnapshot(fs, dir)
	if err != nil {
		return nil, err
	}

	m := &Manifest{fs: fs, dir: dir, state: snapshot, nextSnapshotSeq: snapSeq}

	logPath := fs.PathJoin(dir, wal.FileName(eventLogSeq))
	var log *wal.WAL[Event]
	if _, statErr := fs.Stat(logPath); statErr == nil {
		log, err = wal.Open[Event](fs, dir, eventLogSeq, maxEventSize, EventCodec{})
		if err != nil {
			return nil, errors.Wrap(err, "manifest: open event wal")
		}
	} else {
		log, err = wal.Create[Event](fs, dir, eventLogSeq, maxEventSize, EventCodec{})
		if err != nil {
			return nil, errors.Wrap(err, "manifest: create event wal")
		}
	}
	m.log = log

	events, err := m.log.Replay()
	if err != nil {
		return nil, errors.Wrap(err, "manifest: replay event wal")
	}
	for _, ev := range events {
		applyEvent(&m.state, ev)
	}
	return m, nil
}

// State returns a defensive copy of the current manifest state.
func (m *Manifest) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Dirty reports whether the manifest has recorded events since its last
// checkpoint. The engine reads it after each flush or compaction install
// to decide whether an opportunistic checkpoint is worthwhile, and
// exposes it as Engine.NeedsCheckpoint.
func (m *Manifest) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Dirty
}

// record appends ev to the WAL, then mutates in-memory state: build event,
// append to WAL (durable), then mutate in-memory state under the manifest
// mutex.
func (m *Manifest) record(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.log.Append(ev); err != nil {
		return errors.Wrap(err, "manifest: append event")
	}
	applyEvent(&m.state, ev)
	m.state.Dirty = true
	return nil
}

func applyEvent(s *State, ev Event) {
	switch ev.Type {
	case EventVersion:
		s.Version = ev.Version
	case EventSetActiveWal:
		s.ActiveWalID = ev.WalID
		s.FrozenWalIDs = removeUint64(s.FrozenWalIDs, ev.WalID)
	case EventAddFrozenWal:
		if !containsUint64(s.FrozenWalIDs, ev.WalID) {
			s.FrozenWalIDs = append(s.FrozenWalIDs, ev.WalID)
		}
	case EventRemoveFrozenWal:
		s.FrozenWalIDs = removeUint64(s.FrozenWalIDs, ev.WalID)
	case EventAddSst:
		if sstIndex(s.Ssts, ev.SstID) < 0 {
			s.Ssts = append(s.Ssts, SstEntry{ID: ev.SstID, Path: ev.SstPath})
		}
	case EventRemoveSst:
		if i := sstIndex(s.Ssts, ev.SstID); i >= 0 {
			s.Ssts = append(s.Ssts[:i], s.Ssts[i+1:]...)
		}
	case EventUpdateLsn:
		if ev.LSN > s.LastLSN {
			s.LastLSN = ev.LSN
		}
	case EventAllocateSstId:
		if ev.SstID+1 > s.NextSstID {
			s.NextSstID = ev.SstID + 1
		}
	case EventCompaction:
		for _, id := range ev.Removed {
			if i := sstIndex(s.Ssts, id); i >= 0 {
				s.Ssts = append(s.Ssts[:i], s.Ssts[i+1:]...)
			}
		}
		for _, add := range ev.Added {
			if sstIndex(s.Ssts, add.ID) < 0 {
				s.Ssts = append(s.Ssts, add)
			}
		}
	}
}

// SetVersion records the manifest schema version.
func (m *Manifest) SetVersion(v uint64) error {
	return m.record(Event{Type: EventVersion, Version: v})
}

// SetActiveWal records that w is now the active WAL.
func (m *Manifest) SetActiveWal(w uint64) error {
	return m.record(Event{Type: EventSetActiveWal, WalID: w})
}

// AddFrozenWal records that w has been frozen and awaits flush.
func (m *Manifest) AddFrozenWal(w uint64) error {
	return m.record(Event{Type: EventAddFrozenWal, WalID: w})
}

// RemoveFrozenWal records that w's flush has been durably published.
func (m *Manifest) RemoveFrozenWal(w uint64) error {
	return m.record(Event{Type: EventRemoveFrozenWal, WalID: w})
}

// AddSst records a newly published SST.
func (m *Manifest) AddSst(id uint64, path string) error {
	return m.record(Event{Type: EventAddSst, SstID: id, SstPath: path})
}

// RemoveSst records that an SST is no longer live.
func (m *Manifest) RemoveSst(id uint64) error {
	return m.record(Event{Type: EventRemoveSst, SstID: id})
}

// UpdateLsn advances last_lsn to l iff l is greater than the current value.
func (m *Manifest) UpdateLsn(l base.LSN) error {
	return m.record(Event{Type: EventUpdateLsn, LSN: l})
}

// RecordCompaction atomically adds and removes SSTs in a single WAL frame.
func (m *Manifest) RecordCompaction(added []SstEntry, removed []uint64) error {
	return m.record(Event{Type: EventCompaction, Added: added, Removed: removed})
}

// AllocateSstID returns a fresh SST id, durably recorded before it is
// returned so that a never-published id is simply skipped on crash
// recovery.
func (m *Manifest) AllocateSstID() (uint64, error) {
	m.mu.Lock()
	id := m.state.NextSstID
	ev := Event{Type: EventAllocateSstId, SstID: id}
	if err := m.log.Append(ev); err != nil {
		m.mu.Unlock()
		return 0, errors.Wrap(err, "manifest: append allocate_sst_id")
	}
	applyEvent(&m.state, ev)
	m.state.Dirty = true
	m.mu.Unlock()
	return id, nil
}

// Checkpoint durably writes a full snapshot and truncates the event WAL:
// serialize the snapshot and append a CRC32 of the serialized bytes (the
// CRC input holds no checksum field, zeroed or otherwise), write it to a
// .tmp file, fsync, rename, fsync the parent directory, truncate the
// event WAL, clear dirty.
func (m *Manifest) Checkpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSnapshotSeq + 1
	snap := Snapshot{Version: 1, SnapshotLSN: m.state.LastLSN, State: m.state.clone()}
	if err := writeSnapshot(m.fs, m.dir, seq, snap); err != nil {
		return err
	}
	if err := m.log.Truncate(); err != nil {
		return errors.Wrap(err, "manifest: truncate event wal")
	}
	m.nextSnapshotSeq = seq
	m.state.Dirty = false
	return nil
}

// Close checkpoints the manifest and closes its event WAL.
func (m *Manifest) Close() error {
	if err := m.Checkpoint(); err != nil {
		return err
	}
	return m.log.Close()
}
