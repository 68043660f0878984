package compaction

import "sort"

// Policy holds the compaction-tuning knobs, mirrored from the engine's
// Config so this package has no dependency on the root package (which
// imports compaction, not the reverse).
type Policy struct {
	MinCompactionThreshold      int
	MaxCompactionThreshold      int
	BucketLow, BucketHigh       float64
	MinSstableSize              uint64
	TombstoneCompactionRatio    float64
	TombstoneCompactionInterval int64
	TombstoneBloomFallback      bool
	TombstoneRangeDrop          bool
}

// SstStat is the subset of an SST's metadata needed to bucket it.
type SstStat struct {
	ID   uint64
	Size uint64
}

// PlanMinorCompaction implements size-tiered bucketing: sort ascending by
// size, split off a dedicated "small" bucket, grow the rest into buckets by
// running average, then pick the
// bucket with the most SSTs (ties broken by smallest average size),
// capped at MaxCompactionThreshold inputs. Returns nil if no bucket meets
// MinCompactionThreshold.
func PlanMinorCompaction(stats []SstStat, p Policy) []uint64 {
	if len(stats) == 0 {
		return nil
	}
	sorted := append([]SstStat(nil), stats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	var buckets [][]SstStat
	var small []SstStat
	var rest []SstStat
	for _, s := range sorted {
		if s.Size < p.MinSstableSize {
			small = append(small, s)
		} else {
			rest = append(rest, s)
		}
	}
	if len(small) > 0 {
		buckets = append(buckets, small)
	}

	var current []SstStat
	var runningSum uint64
	for _, s := range rest {
		if len(current) == 0 {
			current = []SstStat{s}
			runningSum = s.Size
			continue
		}
		avg := float64(runningSum) / float64(len(current))
		lo, hi := avg*p.BucketLow, avg*p.BucketHigh
		if f := float64(s.Size); f >= lo && f <= hi {
			current = append(current, s)
			runningSum += s.Size
			continue
		}
		buckets = append(buckets, current)
		current = []SstStat{s}
		runningSum = s.Size
	}
	if len(current) > 0 {
		buckets = append(buckets, current)
	}

	var chosen []SstStat
	var chosenAvg float64
	for _, b := range buckets {
		if len(b) < p.MinCompactionThreshold {
			continue
		}
		var sum uint64
		for _, s := range b {
			sum += s.Size
		}
		avg := float64(sum) / float64(len(b))
		switch {
		case chosen == nil:
			chosen, chosenAvg = b, avg
		case len(b) > len(chosen):
			chosen, chosenAvg = b, avg
		case len(b) == len(chosen) && avg < chosenAvg:
			chosen, chosenAvg = b, avg
		}
	}
	if chosen == nil {
		return nil
	}
	if len(chosen) > p.MaxCompactionThreshold {
		chosen = chosen[:p.MaxCompactionThreshold]
	}
	ids := make([]uint64, len(chosen))
	for i, s := range chosen {
		ids[i] = s.ID
	}
	return ids
}

// TombstoneStat is the subset of an SST's metadata needed to evaluate it
// as a tombstone-compaction candidate.
type TombstoneStat struct {
	ID              uint64
	PointTombstones uint64
	RangeTombstones uint64
	RecordCount     uint64
	AgeNs           int64
}

// PlanTombstoneCompaction picks a tombstone-rewrite candidate: an SST is
// eligible when its tombstone ratio meets the threshold and it is at least
// TombstoneCompactionInterval old; picks the single candidate with the
// highest ratio.
func PlanTombstoneCompaction(stats []TombstoneStat, p Policy) (id uint64, ok bool) {
	var bestRatio float64
	for _, s := range stats {
		if s.RecordCount == 0 {
			continue
		}
		ratio := float64(s.PointTombstones+s.RangeTombstones) / float64(s.RecordCount)
		if ratio < p.TombstoneCompactionRatio || s.AgeNs < p.TombstoneCompactionInterval {
			continue
		}
		if !ok || ratio > bestRatio {
			id, bestRatio, ok = s.ID, ratio, true
		}
	}
	return id, ok
}
