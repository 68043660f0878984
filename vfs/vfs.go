// Package vfs provides the filesystem and clock abstractions that the
// storage engine is built against. Production code runs on Default, tests
// run on an in-memory FS so that crash points can be injected deterministically.
package vfs

import (
	"io"
	"os"
)

// File is a readable, writable, syncable sequence of bytes.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	io.WriterAt
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// FS is a namespace of files, modeled closely on the standard library's
// os package but narrow enough to be backed by an in-memory fake in tests.
type FS interface {
	// Create creates the named file for writing, truncating it if it
	// already exists.
	Create(name string) (File, error)

	// Open opens the named file for reading and writing.
	Open(name string) (File, error)

	// OpenDir opens a directory for the sole purpose of calling Sync on
	// it, to make a preceding Rename or Create durable against a crash.
	OpenDir(name string) (File, error)

	// Remove removes the named file. It does not error if the file does
	// not exist.
	Remove(name string) error

	// Rename renames oldname to newname, overwriting newname if it
	// already exists.
	Rename(oldname, newname string) error

	// MkdirAll creates dir and any parents that do not already exist.
	MkdirAll(dir string, perm os.FileMode) error

	// List returns the names of the files and directories directly
	// inside dir, sorted lexicographically.
	List(dir string) ([]string, error)

	// Stat returns metadata about the named file or directory.
	Stat(name string) (os.FileInfo, error)

	// PathJoin joins path components using the FS's own separator.
	PathJoin(elem ...string) string
}

// Clock is a source of wall-clock time, abstracted so tests can pin it.
type Clock interface {
	Now() int64 // nanoseconds since the Unix epoch
}

// SystemClock is the Clock backed by time.Now.
var SystemClock Clock = systemClock{}
