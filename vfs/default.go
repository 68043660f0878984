package vfs

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// Default is the FS backed by the real operating system filesystem.
var Default FS = defaultFS{}

type defaultFS struct{}

func (defaultFS) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	return f, errors.Wrapf(err, "vfs: create %q", name)
}

func (defaultFS) Open(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0666)
	return f, errors.Wrapf(err, "vfs: open %q", name)
}

func (defaultFS) OpenDir(name string) (File, error) {
	f, err := os.Open(name)
	return f, errors.Wrapf(err, "vfs: open dir %q", name)
}

func (defaultFS) Remove(name string) error {
	err := os.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "vfs: remove %q", name)
}

func (defaultFS) Rename(oldname, newname string) error {
	return errors.Wrapf(os.Rename(oldname, newname), "vfs: rename %q -> %q", oldname, newname)
}

func (defaultFS) MkdirAll(dir string, perm os.FileMode) error {
	return errors.Wrapf(os.MkdirAll(dir, perm), "vfs: mkdir %q", dir)
}

func (defaultFS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: list %q", dir)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

func (defaultFS) Stat(name string) (os.FileInfo, error) {
	fi, err := os.Stat(name)
	return fi, errors.Wrapf(err, "vfs: stat %q", name)
}

func (defaultFS) PathJoin(elem ...string) string {
	return filepath.Join(elem...)
}

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixNano() }
