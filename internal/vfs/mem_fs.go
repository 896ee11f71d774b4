package vfs

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemFS is an in-memory filesystem, grounded on
// github.com/cockroachdb/pebble/vfs.MemFS. It backs the recovery and
// crash-injection tests in this module so they don't touch the real disk
// and can deterministically simulate a truncated tail write.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
	locks map[string]bool
}

// NewMemFS returns a fresh, empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFileData), locks: make(map[string]bool)}
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

type memFile struct {
	fs     *MemFS
	name   string
	data   *memFileData
	offset int64
}

func (f *memFile) Read(p []byte) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if f.offset >= int64(len(f.data.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if off >= int64(len(f.data.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	need := f.offset + int64(len(p))
	if need > int64(len(f.data.data)) {
		grown := make([]byte, need)
		copy(grown, f.data.data)
		f.data.data = grown
	}
	n := copy(f.data.data[f.offset:], p)
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Sync() error { return nil }

func (f *memFile) Size() (int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	return int64(len(f.data.data)), nil
}

// Truncate shortens the named file to the given size, used by tests to
// simulate a crash mid-write (S6: "truncate the tail 37 bytes").
func (fs *MemFS) Truncate(name string, size int64) error {
	fs.mu.Lock()
	d, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return errors.Newf("memfs: %s not found", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if size < int64(len(d.data)) {
		d.data = d.data[:size]
	}
	return nil
}

func (fs *MemFS) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := &memFileData{}
	fs.files[name] = d
	return &memFile{fs: fs, name: name, data: d}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(errors.Newf("memfs: %s not found", name), "open")
	}
	return &memFile{fs: fs, name: name, data: d}, nil
}

func (fs *MemFS) OpenReadWrite(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[name]
	if !ok {
		d = &memFileData{}
		fs.files[name] = d
	}
	return &memFile{fs: fs, name: name, data: d}, nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[oldname]
	if !ok {
		return errors.Newf("memfs: %s not found", oldname)
	}
	fs.files[newname] = d
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) MkdirAll(dir string) error { return nil }

func (fs *MemFS) List(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	for name := range fs.files {
		if rest, ok := strings.CutPrefix(name, prefix); ok && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) Exist(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[name]
	return ok
}

type memLock struct {
	fs   *MemFS
	name string
}

func (l *memLock) Close() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()
	delete(l.fs.locks, l.name)
	return nil
}

func (fs *MemFS) Lock(name string) (io.Closer, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.locks[name] {
		return nil, errors.Newf("memfs: %s already locked", name)
	}
	fs.locks[name] = true
	if _, ok := fs.files[name]; !ok {
		fs.files[name] = &memFileData{}
	}
	return &memLock{fs: fs, name: name}, nil
}

func (fs *MemFS) PathJoin(elems ...string) string {
	return strings.Join(elems, "/")
}

var _ FS = (*MemFS)(nil)
