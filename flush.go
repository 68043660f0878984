package aeternusdb

import (
	"github.com/kamil-kielbasa/aeternusdb/internal/compaction"
	"github.com/kamil-kielbasa/aeternusdb/internal/memtable"
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
)

// flushEntriesFor splits a frozen memtable's flush iterator into the
// point-entry and range-tombstone shapes internal/compaction operates on.
func flushEntriesFor(fm *memtable.Frozen) ([]compaction.Entry, []compaction.RangeTombstone) {
	raw := fm.IterForFlush()
	var entries []compaction.Entry
	var tombstones []compaction.RangeTombstone
	for _, fe := range raw {
		switch {
		case fe.Point != nil:
			entries = append(entries, compaction.Entry{
				Key:    fe.Key,
				Value:  fe.Point.Value,
				Delete: fe.Point.Kind != 0, // base.KindPut == 0
				LSN:    fe.Point.LSN,
				Ts:     fe.Point.Ts,
			})
		case fe.Tombstone != nil:
			tombstones = append(tombstones, compaction.RangeTombstone{
				Start: fe.Tombstone.Start, End: fe.Tombstone.End,
				LSN: fe.Tombstone.LSN, Ts: fe.Tombstone.Ts,
			})
		}
	}
	return entries, tombstones
}

// doFlush runs the full execute-then-install pipeline for one frozen
// memtable: allocate an SST id, build the output table (skipped if the
// memtable holds nothing), then publish it and retire the frozen memtable
// under the exclusive lock. Shared by the async pump path (flushTask) and
// the synchronous drain path (flushAllLocked).
func (e *Engine) doFlush(fe frozenEntry) error {
	id, err := e.manifest.AllocateSstID()
	if err != nil {
		return err
	}

	entries, tombstones := flushEntriesFor(fe.frozen)
	var out *sstable.Reader
	if len(entries) > 0 || len(tombstones) > 0 {
		sstablesDir := e.fs.PathJoin(e.dir, sstablesDirName)
		out, err = compaction.WriteSST(e.fs, sstablesDir, id, e.clock.Now(), entries, tombstones)
		if err != nil {
			return err
		}
	}

	e.installFlush(fe, out)
	return nil
}

// flushTask is the pump task enqueued whenever a memtable is frozen on
// the write path. It runs the flush, then evaluates whether minor or
// tombstone compaction is now warranted.
func (e *Engine) flushTask(fe frozenEntry) {
	e.config.Logger.Infof("aeternusdb: flush wal %d starting", fe.walID)
	if err := e.doFlush(fe); err != nil {
		e.config.Logger.Errorf("aeternusdb: flush wal %d: %v", fe.walID, err)
		return
	}
	e.config.Logger.Infof("aeternusdb: flush wal %d done", fe.walID)
	e.pump.Submit(e.maybeCompactTask)
}

// installFlush is flush's Phase C: publish the new SST (if any) and
// retire the frozen memtable and its WAL, all under the exclusive lock.
func (e *Engine) installFlush(fe frozenEntry, out *sstable.Reader) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stillFrozen := false
	for _, f := range e.frozen {
		stillFrozen = stillFrozen || f.walID == fe.walID
	}
	if !stillFrozen {
		// The other flush path already installed this memtable; drop ours.
		if out != nil {
			out.Close()
			e.fs.Remove(out.Path())
		}
		return
	}

	if out != nil {
		if err := e.manifest.AddSst(out.ID(), out.Path()); err != nil {
			e.config.Logger.Errorf("aeternusdb: install flush: add sst: %v", err)
			return
		}
		e.ssts = append(e.ssts, out)
		sortSstsByMaxLSNDesc(e.ssts)
		e.sstIdx[out.ID()] = out
	}
	if err := e.manifest.RemoveFrozenWal(fe.walID); err != nil {
		e.config.Logger.Errorf("aeternusdb: install flush: remove frozen wal: %v", err)
		return
	}
	for i, f := range e.frozen {
		if f.walID == fe.walID {
			e.frozen = append(e.frozen[:i], e.frozen[i+1:]...)
			break
		}
	}

	walPath := fe.frozen.WAL().Path()
	if err := fe.frozen.WAL().Close(); err != nil {
		e.config.Logger.Errorf("aeternusdb: install flush: close old wal: %v", err)
	}
	if err := e.fs.Remove(walPath); err != nil {
		e.config.Logger.Errorf("aeternusdb: install flush: remove old wal: %v", err)
	}

	e.metricsMu.Lock()
	e.metrics.FlushCount++
	if out != nil {
		if sz, err := out.FileSize(); err == nil {
			e.metrics.BytesFlushed += uint64(sz)
		}
	}
	e.metricsMu.Unlock()

	e.maybeCheckpointLocked()
}

// maybeCheckpointLocked checkpoints the manifest if it has unpersisted
// events, mirroring the teacher's periodic-rather-than-every-event
// checkpoint pattern. Caller holds e.mu.
func (e *Engine) maybeCheckpointLocked() {
	if !e.manifest.Dirty() {
		return
	}
	if err := e.manifest.Checkpoint(); err != nil {
		e.config.Logger.Errorf("aeternusdb: checkpoint: %v", err)
	}
}

// freezeActiveLocked freezes the active memtable onto a freshly rotated
// WAL and returns the frozen entry, without submitting any pump task —
// the caller decides whether to flush it asynchronously (the write path)
// or synchronously (Close, MajorCompact). Caller holds e.mu exclusively.
func (e *Engine) freezeActiveLocked() (frozenEntry, error) {
	oldWAL := e.active.WAL()
	oldMaxLSN := e.active.MaxLSN()
	newWAL, err := oldWAL.RotateNext()
	if err != nil {
		return frozenEntry{}, err
	}
	if err := e.manifest.AddFrozenWal(oldWAL.Seq()); err != nil {
		return frozenEntry{}, err
	}
	if err := e.manifest.SetActiveWal(newWAL.Seq()); err != nil {
		return frozenEntry{}, err
	}

	entry := frozenEntry{frozen: memtable.Freeze(e.active), walID: oldWAL.Seq()}
	e.frozen = append(e.frozen, entry)

	e.active = memtable.New(newWAL, e.config.WriteBufferSize)
	e.active.InjectMaxLSN(oldMaxLSN)
	return entry, nil
}

// rotateActiveLocked is freezeActiveLocked followed by an async pump
// dispatch of the resulting frozen memtable's flush — the write path's
// half of the FlushRequired protocol. Caller holds e.mu.
func (e *Engine) rotateActiveLocked() error {
	entry, err := e.freezeActiveLocked()
	if err != nil {
		return err
	}
	e.pump.Submit(func() { e.flushTask(entry) })
	return nil
}

// flushAllLocked synchronously flushes the active memtable (if non-empty)
// and every already-frozen memtable, bypassing the background pump. Used
// by Close and MajorCompact, which must not return until every memtable
// is durably flushed. Caller holds e.mu exclusively and retains it across
// the call (the brief unlock while doFlush installs is intentional: doFlush
// takes e.mu itself, so this method releases it around each iteration).
func (e *Engine) flushAllLocked() error {
	if !e.active.IsEmpty() {
		if _, err := e.freezeActiveLocked(); err != nil {
			return err
		}
	}
	for {
		if len(e.frozen) == 0 {
			return nil
		}
		fe := e.frozen[0]
		e.mu.Unlock()
		err := e.doFlush(fe)
		e.mu.Lock()
		if err != nil {
			return err
		}
	}
}
