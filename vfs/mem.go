package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotExist is returned by MemFS operations on a missing path.
var ErrNotExist = errors.New("vfs: file does not exist")

// NewMem returns an in-memory FS used by tests to exercise recovery and
// crash-injection scenarios without touching a real disk.
func NewMem() *MemFS {
	return &MemFS{
		dirs:  map[string]bool{"": true},
		files: map[string]*memNode{},
	}
}

// MemFS is a simple in-memory implementation of FS.
type MemFS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]*memNode
}

type memNode struct {
	mu   sync.Mutex
	data []byte
	mod  time.Time
}

func clean(name string) string {
	return path.Clean(filepath_ToSlash(name))
}

// filepath_ToSlash avoids importing path/filepath just for slash
// normalization inside the in-memory namespace.
func filepath_ToSlash(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

func (fs *MemFS) Create(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := &memNode{mod: time.Now()}
	fs.files[name] = n
	fs.dirs[path.Dir(name)] = true
	return &memFile{fs: fs, name: name, node: n}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "open %q", name)
	}
	return &memFile{fs: fs, name: name, node: n}, nil
}

func (fs *MemFS) OpenDir(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.dirs[name] {
		return nil, errors.Wrapf(ErrNotExist, "open dir %q", name)
	}
	return &memDirHandle{}, nil
}

func (fs *MemFS) Remove(name string) error {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	oldname, newname = clean(oldname), clean(newname)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.files[oldname]
	if !ok {
		return errors.Wrapf(ErrNotExist, "rename %q", oldname)
	}
	fs.files[newname] = n
	fs.dirs[path.Dir(newname)] = true
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) MkdirAll(dir string, _ os.FileMode) error {
	dir = clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for d := dir; d != "." && d != "/" && d != ""; d = path.Dir(d) {
		fs.dirs[d] = true
	}
	fs.dirs[""] = true
	return nil
}

func (fs *MemFS) List(dir string) ([]string, error) {
	dir = clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seen := map[string]bool{}
	var names []string
	for name := range fs.files {
		if path.Dir(name) == dir {
			base := path.Base(name)
			if !seen[base] {
				seen[base] = true
				names = append(names, base)
			}
		}
	}
	for d := range fs.dirs {
		if d != dir && path.Dir(d) == dir {
			base := path.Base(d)
			if !seen[base] {
				seen[base] = true
				names = append(names, base)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) Stat(name string) (os.FileInfo, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n, ok := fs.files[name]; ok {
		return memFileInfo{name: path.Base(name), size: int64(len(n.data)), mod: n.mod}, nil
	}
	if fs.dirs[name] {
		return memFileInfo{name: path.Base(name), isDir: true}, nil
	}
	return nil, errors.Wrapf(ErrNotExist, "stat %q", name)
}

func (fs *MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

// TruncateFile hard-truncates a file to the given size, simulating a crash
// that leaves a torn write behind.
func (fs *MemFS) TruncateFile(name string, size int64) error {
	name = clean(name)
	fs.mu.Lock()
	n, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNotExist, "truncate %q", name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	}
	return nil
}

type memFile struct {
	fs     *MemFS
	name   string
	node   *memNode
	offset int64
}

func (f *memFile) Read(p []byte) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if f.offset >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if off >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	end := f.offset + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[f.offset:end], p)
	f.offset = end
	f.node.mod = time.Now()
	return len(p), nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[off:end], p)
	f.node.mod = time.Now()
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if size <= int64(len(f.node.data)) {
		f.node.data = f.node.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	if f.offset > size {
		f.offset = size
	}
	return nil
}

func (f *memFile) Close() error { return nil }
func (f *memFile) Sync() error  { return nil }

func (f *memFile) Stat() (os.FileInfo, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	return memFileInfo{name: path.Base(f.name), size: int64(len(f.node.data)), mod: f.node.mod}, nil
}

type memDirHandle struct{}

func (memDirHandle) Read([]byte) (int, error)              { return 0, io.EOF }
func (memDirHandle) ReadAt([]byte, int64) (int, error)      { return 0, io.EOF }
func (memDirHandle) Write([]byte) (int, error)              { return 0, errors.New("vfs: cannot write a directory") }
func (memDirHandle) WriteAt([]byte, int64) (int, error)      { return 0, errors.New("vfs: cannot write a directory") }
func (memDirHandle) Truncate(int64) error                   { return errors.New("vfs: cannot truncate a directory") }
func (memDirHandle) Close() error                           { return nil }
func (memDirHandle) Sync() error                            { return nil }
func (memDirHandle) Stat() (os.FileInfo, error)             { return memFileInfo{isDir: true}, nil }

type memFileInfo struct {
	name  string
	size  int64
	mod   time.Time
	isDir bool
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0666 }
func (fi memFileInfo) ModTime() time.Time { return fi.mod }
func (fi memFileInfo) IsDir() bool        { return fi.isDir }
func (fi memFileInfo) Sys() interface{}   { return nil }
