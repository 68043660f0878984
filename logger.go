package aeternusdb

import (
	"fmt"
	"log"
)

// Logger receives background-pump diagnostics: flush and compaction
// start/end, orphan-file cleanup during recovery. It is never called from
// the synchronous Put/Get/Delete/Scan path.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultLogger logs to the standard library's log package.
type DefaultLogger struct{}

func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

func (DefaultLogger) Errorf(format string, args ...interface{}) {
	_ = log.Output(2, "ERROR: "+fmt.Sprintf(format, args...))
}

// noopLogger discards everything. Nothing in the package installs it;
// EnsureDefaults falls back to DefaultLogger.
type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
