package aeternusdb

import (
	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/compaction"
	"github.com/kamil-kielbasa/aeternusdb/internal/manifest"
	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
)

// policy adapts Config's compaction knobs to internal/compaction's own
// Policy type, which cannot import the root package (see its doc comment).
func (e *Engine) policy() compaction.Policy {
	c := e.config
	return compaction.Policy{
		MinCompactionThreshold:      c.MinCompactionThreshold,
		MaxCompactionThreshold:      c.MaxCompactionThreshold,
		BucketLow:                   c.BucketLow,
		BucketHigh:                  c.BucketHigh,
		MinSstableSize:              c.MinSstableSize,
		TombstoneCompactionRatio:    c.TombstoneCompactionRatio,
		TombstoneCompactionInterval: c.TombstoneCompactionInterval,
		TombstoneBloomFallback:      c.TombstoneBloomFallback,
		TombstoneRangeDrop:          c.TombstoneRangeDrop,
	}
}

// maybeCompactTask is the pump task enqueued after every flush: it
// evaluates whether a minor compaction is warranted, then whether a
// tombstone compaction is.
func (e *Engine) maybeCompactTask() {
	e.runMinorCompaction()
	e.runTombstoneCompaction()
}

func containsID(ids []uint64, id uint64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// clearCompacting removes ids from the in-flight-compaction set.
func (e *Engine) clearCompacting(ids []uint64) {
	e.mu.Lock()
	for _, id := range ids {
		delete(e.compacting, id)
	}
	e.mu.Unlock()
}

// installCompactionResult is compaction's Phase C, shared by minor,
// tombstone, and major passes: verify every input is still live, publish
// the output (if any) via a single Compaction manifest event, delete the
// old files, and swap the in-memory SST set.
func (e *Engine) installCompactionResult(inputIDs []uint64, result compaction.Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range inputIDs {
		if _, ok := e.sstIdx[id]; !ok {
			// An input went stale (should not happen — only one
			// compaction pass may hold a given SST at a time — but
			// handled defensively Phase C).
			if result.Output != nil {
				result.Output.Close()
				e.fs.Remove(result.Output.Path())
			}
			for _, id2 := range inputIDs {
				delete(e.compacting, id2)
			}
			return nil
		}
	}

	var added []manifest.SstEntry
	if result.Output != nil {
		added = []manifest.SstEntry{{ID: result.Output.ID(), Path: result.Output.Path()}}
	}
	if err := e.manifest.RecordCompaction(added, inputIDs); err != nil {
		return errors.Wrap(err, "aeternusdb: record compaction")
	}

	for _, id := range inputIDs {
		if r, ok := e.sstIdx[id]; ok {
			r.Close()
			e.fs.Remove(r.Path())
			delete(e.sstIdx, id)
		}
		delete(e.compacting, id)
	}
	kept := e.ssts[:0]
	for _, s := range e.ssts {
		if !containsID(inputIDs, s.ID()) {
			kept = append(kept, s)
		}
	}
	e.ssts = kept
	if result.Output != nil {
		e.ssts = append(e.ssts, result.Output)
		e.sstIdx[result.Output.ID()] = result.Output
	}
	sortSstsByMaxLSNDesc(e.ssts)

	e.maybeCheckpointLocked()
	return nil
}

// runMinorCompaction runs one size-tiered minor compaction pass, if the
// current SST set has a bucket meeting min_compaction_threshold.
func (e *Engine) runMinorCompaction() {
	e.mu.Lock()
	var stats []compaction.SstStat
	for _, s := range e.ssts {
		if e.compacting[s.ID()] {
			continue
		}
		sz, err := s.FileSize()
		if err != nil {
			e.mu.Unlock()
			e.config.Logger.Errorf("aeternusdb: minor compaction: stat sst %d: %v", s.ID(), err)
			return
		}
		stats = append(stats, compaction.SstStat{ID: s.ID(), Size: uint64(sz)})
	}
	ids := compaction.PlanMinorCompaction(stats, e.policy())
	if len(ids) == 0 {
		e.mu.Unlock()
		return
	}
	inputs := make([]*sstable.Reader, 0, len(ids))
	for _, id := range ids {
		e.compacting[id] = true
		inputs = append(inputs, e.sstIdx[id])
	}
	e.mu.Unlock()

	outputID, err := e.manifest.AllocateSstID()
	if err != nil {
		e.config.Logger.Errorf("aeternusdb: minor compaction: allocate sst id: %v", err)
		e.clearCompacting(ids)
		return
	}
	sstablesDir := e.fs.PathJoin(e.dir, sstablesDirName)
	e.config.Logger.Infof("aeternusdb: minor compaction of %d ssts starting", len(inputs))
	result, err := compaction.ExecuteMinor(e.fs, sstablesDir, outputID, e.clock.Now(), inputs)
	if err != nil {
		e.config.Logger.Errorf("aeternusdb: minor compaction: %v", err)
		e.clearCompacting(ids)
		return
	}
	if err := e.installCompactionResult(ids, result); err != nil {
		e.config.Logger.Errorf("aeternusdb: minor compaction: install: %v", err)
		return
	}
	e.metricsMu.Lock()
	e.metrics.MinorCompactions++
	e.metricsMu.Unlock()
	e.config.Logger.Infof("aeternusdb: minor compaction of %d ssts done", len(inputs))
}

// runTombstoneCompaction rewrites the single SST with the highest
// tombstone ratio, if any candidate meets tombstone_compaction_ratio and
// tombstone_compaction_interval.
func (e *Engine) runTombstoneCompaction() {
	e.mu.Lock()
	var stats []compaction.TombstoneStat
	for _, s := range e.ssts {
		if e.compacting[s.ID()] {
			continue
		}
		stats = append(stats, compaction.TombstoneStat{
			ID:              s.ID(),
			PointTombstones: s.NumDeletions(),
			RangeTombstones: s.NumRangeDeletions(),
			RecordCount:     s.RecordCount(),
			AgeNs:           e.clock.Now() - s.CreatedAt(),
		})
	}
	id, ok := compaction.PlanTombstoneCompaction(stats, e.policy())
	if !ok {
		e.mu.Unlock()
		return
	}
	e.compacting[id] = true
	target := e.sstIdx[id]
	others := make([]*sstable.Reader, 0, len(e.ssts)-1)
	for _, s := range e.ssts {
		if s.ID() != id {
			others = append(others, s)
		}
	}
	e.mu.Unlock()

	outputID, err := e.manifest.AllocateSstID()
	if err != nil {
		e.config.Logger.Errorf("aeternusdb: tombstone compaction: allocate sst id: %v", err)
		e.clearCompacting([]uint64{id})
		return
	}
	sstablesDir := e.fs.PathJoin(e.dir, sstablesDirName)
	result, dropped, err := compaction.ExecuteTombstoneRewrite(e.fs, sstablesDir, outputID, e.clock.Now(), target, others, e.policy())
	if err != nil {
		e.config.Logger.Errorf("aeternusdb: tombstone compaction: %v", err)
		e.clearCompacting([]uint64{id})
		return
	}
	if dropped == 0 {
		// "If the rewrite would drop zero records, skip."
		// The pre-allocated output id is simply never published.
		e.clearCompacting([]uint64{id})
		return
	}
	if err := e.installCompactionResult([]uint64{id}, result); err != nil {
		e.config.Logger.Errorf("aeternusdb: tombstone compaction: install: %v", err)
		return
	}
	e.metricsMu.Lock()
	e.metrics.TombstoneCompactions++
	e.metricsMu.Unlock()
	e.config.Logger.Infof("aeternusdb: tombstone compaction of sst %d dropped %d records", id, dropped)
}

// MajorCompact flushes every memtable, then synchronously merges every
// live SST into one (or leaves none if the database is empty).
func (e *Engine) MajorCompact() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err := e.flushAllLocked(); err != nil {
		e.mu.Unlock()
		return errors.Wrap(err, "aeternusdb: major compact: flush")
	}
	inputs := append([]*sstable.Reader(nil), e.ssts...)
	inputIDs := make([]uint64, len(inputs))
	for i, s := range inputs {
		inputIDs[i] = s.ID()
		e.compacting[s.ID()] = true
	}
	e.mu.Unlock()

	if len(inputs) == 0 {
		return nil
	}

	outputID, err := e.manifest.AllocateSstID()
	if err != nil {
		e.clearCompacting(inputIDs)
		return errors.Wrap(err, "aeternusdb: major compact: allocate sst id")
	}
	sstablesDir := e.fs.PathJoin(e.dir, sstablesDirName)
	e.config.Logger.Infof("aeternusdb: major compaction of %d ssts starting", len(inputs))
	result, err := compaction.ExecuteMajor(e.fs, sstablesDir, outputID, e.clock.Now(), inputs)
	if err != nil {
		e.clearCompacting(inputIDs)
		return errors.Wrap(err, "aeternusdb: major compact: execute")
	}
	if err := e.installCompactionResult(inputIDs, result); err != nil {
		return errors.Wrap(err, "aeternusdb: major compact: install")
	}
	e.metricsMu.Lock()
	e.metrics.MajorCompactions++
	e.metricsMu.Unlock()
	e.config.Logger.Infof("aeternusdb: major compaction of %d ssts done", len(inputs))
	return nil
}
