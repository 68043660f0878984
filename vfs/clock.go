package vfs

import "sync/atomic"

// ManualClock is a Clock a test can advance explicitly, used to make
// tombstone-age policies (tombstone_compaction_interval) deterministic.
type ManualClock struct {
	nanos atomic.Int64
}

// NewManualClock returns a ManualClock initialized to t.
func NewManualClock(t int64) *ManualClock {
	c := &ManualClock{}
	c.nanos.Store(t)
	return c
}

func (c *ManualClock) Now() int64 { return c.nanos.Load() }

// Advance moves the clock forward by d nanoseconds.
func (c *ManualClock) Advance(d int64) { c.nanos.Add(d) }
