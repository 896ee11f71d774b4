// Package vfs abstracts the filesystem operations the storage engine needs,
// grounded on github.com/cockroachdb/pebble/vfs. The indirection lets tests
// run against an in-memory filesystem (MemFS) instead of the real disk,
// which is what makes the crash-recovery and corruption-injection tests in
// this module deterministic and fast.
package vfs

import "io"

// File is the subset of *os.File operations the engine needs.
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Closer
	Sync() error
	// Size returns the file's current size.
	Size() (int64, error)
}

// FS is a filesystem abstraction, implemented by the unexported diskFS
// (the real filesystem, exposed as Default) and MemFS (an in-memory
// filesystem used by tests).
type FS interface {
	Create(name string) (File, error)
	Open(name string) (File, error)
	OpenReadWrite(name string) (File, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	MkdirAll(dir string) error
	List(dir string) ([]string, error)
	Exist(name string) bool
	// Lock acquires an advisory, exclusive lock on name, held until the
	// returned Closer is closed. It fails with the implementation's own
	// error if another holder already has it locked; kvlite's Open reports
	// that failure as base.ErrLocked.
	Lock(name string) (io.Closer, error)
	PathJoin(elems ...string) string
}
