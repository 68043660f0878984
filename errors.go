package aeternusdb

import "github.com/cockroachdb/errors"

// ErrNotFound is returned by Get when a key has no live value: neither a
// Put nor a value not suppressed by any Delete or RangeDelete tombstone.
var ErrNotFound = errors.New("aeternusdb: key not found")

// ErrClosed is returned by any operation attempted on a closed Engine.
var ErrClosed = errors.New("aeternusdb: engine is closed")

// ErrInvalidConfig is wrapped with details when Config.Validate rejects a
// field.
var ErrInvalidConfig = errors.New("aeternusdb: invalid config")

// ErrEmptyKey is returned by Put, Get, and Delete when the key is empty.
var ErrEmptyKey = errors.New("aeternusdb: key must not be empty")

// ErrInvalidRange is returned by DeleteRange when start >= end and by Scan
// when start > end (a Scan with start == end returns nothing); both also
// return it for an empty bound.
var ErrInvalidRange = errors.New("aeternusdb: range start must be < end")
