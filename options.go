package aeternusdb

import "github.com/cockroachdb/errors"

// Config holds the tunable knobs an embedder can set on Open, plus the
// internal compaction-policy constants that are not exposed for external
// tuning.
type Config struct {
	// WriteBufferSize is the memtable size threshold, in bytes, before it
	// is frozen and queued for flush.
	WriteBufferSize uint64
	// MinCompactionThreshold is the minimum bucket size that triggers a
	// size-tiered minor compaction.
	MinCompactionThreshold int
	// MaxCompactionThreshold caps how many SSTs one minor compaction pass
	// takes from its chosen bucket.
	MaxCompactionThreshold int
	// TombstoneCompactionRatio is the (tombstones / records) threshold
	// that makes an SST a tombstone-compaction candidate.
	TombstoneCompactionRatio float64
	// ThreadPoolSize is the number of background workers draining the
	// flush/compaction task queue.
	ThreadPoolSize int

	// BucketLow and BucketHigh bound how far an SST's size may drift from
	// a size-tiered bucket's running average before it starts a new
	// bucket.
	BucketLow, BucketHigh float64
	// MinSstableSize is the size below which an SST always joins the
	// dedicated "small" bucket.
	MinSstableSize uint64
	// TombstoneCompactionInterval is the minimum SST age, in nanoseconds,
	// before it is eligible for tombstone compaction.
	TombstoneCompactionInterval int64
	// TombstoneBloomFallback resolves a "maybe present" bloom hit during
	// tombstone-drop analysis with an actual point lookup.
	TombstoneBloomFallback bool
	// TombstoneRangeDrop additionally probes per-SST scans when deciding
	// whether a range tombstone is droppable.
	TombstoneRangeDrop bool

	// Logger receives background-pump diagnostics. Defaults to
	// DefaultLogger.
	Logger Logger
	// Clock is the source of wall-clock timestamps and, in tests, a
	// substitute for time.Now. Defaults to vfs.SystemClock.
	Clock clockLike
}

// clockLike mirrors vfs.Clock without importing the vfs package here, so
// Config stays a plain data holder; Engine adapts it at Open.
type clockLike interface {
	Now() int64
}

// EnsureDefaults fills every zero-valued field with its default.
func (c *Config) EnsureDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 64 << 10
	}
	if c.MinCompactionThreshold == 0 {
		c.MinCompactionThreshold = 4
	}
	if c.MaxCompactionThreshold == 0 {
		c.MaxCompactionThreshold = 32
	}
	if c.TombstoneCompactionRatio == 0 {
		c.TombstoneCompactionRatio = 0.3
	}
	if c.ThreadPoolSize == 0 {
		c.ThreadPoolSize = 2
	}
	if c.BucketLow == 0 {
		c.BucketLow = 0.5
	}
	if c.BucketHigh == 0 {
		c.BucketHigh = 1.5
	}
	if c.MinSstableSize == 0 {
		c.MinSstableSize = 50
	}
	if c.Logger == nil {
		c.Logger = DefaultLogger{}
	}
	// TombstoneBloomFallback and TombstoneRangeDrop default true; since
	// Go's zero value for bool is false, EnsureDefaults cannot distinguish
	// "unset" from "explicitly false" for these two. Callers who want them
	// off must construct the Config with NewConfig and flip them after.
	return c
}

// NewConfig returns a Config with every default applied, including the two
// bool flags EnsureDefaults cannot safely default.
func NewConfig() *Config {
	c := (&Config{}).EnsureDefaults()
	c.TombstoneBloomFallback = true
	c.TombstoneRangeDrop = true
	return c
}

// Validate rejects out-of-range configuration before Open performs any
// I/O, mirroring the teacher's Options.Validate.
func (c *Config) Validate() error {
	switch {
	case c.WriteBufferSize < 1024:
		return errors.Wrapf(ErrInvalidConfig, "write_buffer_size must be >= 1024, got %d", c.WriteBufferSize)
	case c.MinCompactionThreshold < 2:
		return errors.Wrapf(ErrInvalidConfig, "min_compaction_threshold must be >= 2, got %d", c.MinCompactionThreshold)
	case c.MaxCompactionThreshold < c.MinCompactionThreshold:
		return errors.Wrapf(ErrInvalidConfig, "max_compaction_threshold (%d) must be >= min_compaction_threshold (%d)",
			c.MaxCompactionThreshold, c.MinCompactionThreshold)
	case c.TombstoneCompactionRatio <= 0 || c.TombstoneCompactionRatio > 1:
		return errors.Wrapf(ErrInvalidConfig, "tombstone_compaction_ratio must be in (0, 1], got %f", c.TombstoneCompactionRatio)
	case c.ThreadPoolSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "thread_pool_size must be >= 1, got %d", c.ThreadPoolSize)
	}
	return nil
}
