// Package wal implements the write-ahead log: the durable record of
// writes not yet represented by a flushed SSTable. It is a thin layer over
// internal/record's framed-chunk log, adding the Set/Remove logical record
// codec and crash-tolerant replay.
package wal

import (
	"io"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/record"
	"github.com/kvlite/kvlite/internal/vfs"
)

// Writer appends logical write records to a single WAL file.
type Writer struct {
	f   vfs.File
	w   *record.Writer
	num uint64
}

// Create creates a fresh WAL file numbered num and returns a Writer for it.
func Create(fs vfs.FS, dir string, num uint64) (*Writer, error) {
	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeWAL, num))
	f, err := fs.Create(name)
	if err != nil {
		return nil, base.MarkIo(err)
	}
	return &Writer{f: f, w: record.NewWriter(f, 0), num: num}, nil
}

// Open reopens an existing WAL file numbered num for appending, positioned
// after its current contents, for the recovery path where a mutable
// memtable is rebuilt from a WAL that survived a crash.
func Open(fs vfs.FS, dir string, num uint64) (*Writer, error) {
	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeWAL, num))
	f, err := fs.OpenReadWrite(name)
	if err != nil {
		return nil, base.MarkIo(err)
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, base.MarkIo(err)
	}
	return &Writer{f: f, w: record.NewWriter(f, size), num: num}, nil
}

// Num returns the WAL's file number.
func (w *Writer) Num() uint64 { return w.num }

// Append appends one set/remove record. When sync is true, Append blocks
// until the record is durable on disk (fdatasync or equivalent) before
// returning, per the WriteOptions.sync contract.
func (w *Writer) Append(key base.InternalKey, value []byte, sync bool) error {
	if err := w.w.WriteRecord(base.EncodeRecord(key, value)); err != nil {
		return base.MarkIo(err)
	}
	if sync {
		if err := w.w.Sync(); err != nil {
			return base.MarkIo(err)
		}
	}
	return nil
}

// Sync fsyncs the WAL file without appending a record.
func (w *Writer) Sync() error { return base.MarkIo(w.w.Sync()) }

// Close closes the underlying file. It does not sync; callers that need a
// durable close should call Sync first.
func (w *Writer) Close() error { return w.f.Close() }

// Delete removes a WAL file after its memtable has been durably flushed to
// an SSTable and installed in the manifest.
func Delete(fs vfs.FS, dir string, num uint64) error {
	return fs.Remove(fs.PathJoin(dir, base.MakeFilename(base.FileTypeWAL, num)))
}

// Replay reads every recoverable logical record from the WAL file numbered
// num and invokes fn for each. It stops at the first unrecoverable frame
// (EOF or bad CRC) without returning an error for that condition — a
// partially written tail is the expected shape of a crash, not a bug — but
// returns corrupted=true so the caller can log it.
func Replay(fs vfs.FS, dir string, num uint64, fn func(base.InternalKey, []byte) error) (corrupted bool, err error) {
	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeWAL, num))
	f, err := fs.Open(name)
	if err != nil {
		return false, base.MarkIo(err)
	}
	defer f.Close()

	r, err := record.NewReader(f)
	if err != nil {
		return false, base.MarkIo(err)
	}
	for {
		payload, err := r.Next()
		if err == io.EOF {
			return r.Corrupted(), nil
		}
		if err != nil {
			return false, base.MarkIo(err)
		}
		key, value, decErr := base.DecodeRecord(payload)
		if decErr != nil {
			// A corrupt-but-readable frame is treated the same as a
			// truncated tail: stop replaying, but don't fail recovery.
			return true, nil
		}
		if err := fn(key, value); err != nil {
			return false, err
		}
	}
}
