package kvlite

import (
	"github.com/cockroachdb/errors"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/compaction"
	"github.com/kvlite/kvlite/internal/sstable"
	"github.com/kvlite/kvlite/internal/vfs"
)

// Options configures an open database. It is a plain,
// field-based struct rather than a functional-options builder, matching
// the teacher's pebble.Options.
type Options struct {
	// WriteBufferBytes bounds the mutable memtable's arena; crossing it
	// schedules a flush to L0.
	WriteBufferBytes uint32
	// BlockSize is the target uncompressed size of an SSTable data block
	// before it is sealed.
	BlockSize int
	// BlockRestartInterval is the number of entries between restart points
	// in an SSTable block.
	BlockRestartInterval int
	// L0CompactionTrigger is the number of L0 tables that triggers an
	// L0->L1 compaction.
	L0CompactionTrigger int
	// LevelBaseBytes is the base of the per-level size trigger: level i
	// (i >= 1) triggers at 10^i * LevelBaseBytes.
	LevelBaseBytes uint64
	// BlockCacheBytes bounds the block cache. Zero selects the 8 MiB
	// default.
	BlockCacheBytes uint64
	// UseCompression enables block compression when true; false writes
	// uncompressed blocks.
	UseCompression bool
	// Compression, if UseCompression is true, names which codec to use.
	// Defaults to CompressionSnappy.
	Compression sstable.Compression
	// UseFilter enables a per-table Bloom filter block.
	UseFilter bool
	// FilterBitsPerKey sizes the Bloom filter, if UseFilter is true.
	FilterBitsPerKey uint32
	// UseMMap is accepted for interface compatibility but has no effect:
	// kvlite's vfs layer
	// always reads through ReadAt, never mmap, since no pack example wires
	// a portable mmap dependency (see DESIGN.md).
	UseMMap bool

	// Logger receives recovery, flush and compaction log lines.
	Logger base.Logger
	// FS is the filesystem the database is opened against. Defaults to the
	// real disk; tests inject vfs.NewMemFS().
	FS vfs.FS
}

// EnsureDefaults returns a copy of o with every zero-valued field filled
// in, matching pebble.Options.EnsureDefaults.
func (o *Options) EnsureDefaults() *Options {
	var n Options
	if o != nil {
		n = *o
	}
	if n.WriteBufferBytes == 0 {
		n.WriteBufferBytes = 4 << 20
	}
	if n.BlockSize <= 0 {
		n.BlockSize = sstable.TargetBlockSize
	}
	if n.BlockRestartInterval <= 0 {
		n.BlockRestartInterval = sstable.DefaultRestartInterval
	}
	if n.L0CompactionTrigger <= 0 {
		n.L0CompactionTrigger = compaction.DefaultL0Trigger
	}
	if n.LevelBaseBytes == 0 {
		n.LevelBaseBytes = compaction.DefaultBaseBytes
	}
	if n.BlockCacheBytes == 0 {
		n.BlockCacheBytes = 8 << 20
	}
	if n.UseCompression && n.Compression == sstable.CompressionNone {
		n.Compression = sstable.CompressionSnappy
	} else if !n.UseCompression {
		n.Compression = sstable.CompressionNone
	}
	if n.UseFilter && n.FilterBitsPerKey == 0 {
		n.FilterBitsPerKey = 10
	}
	if n.Logger == nil {
		n.Logger = base.DefaultLogger
	}
	if n.FS == nil {
		n.FS = vfs.Default
	}
	return &n
}

// Validate rejects option combinations that cannot be satisfied.
func (o *Options) Validate() error {
	if o.WriteBufferBytes == 0 {
		return errors.Wrap(base.ErrInvalidArgument, "kvlite: write buffer size must be positive")
	}
	return nil
}

// WriteOptions controls one write's durability.
type WriteOptions struct {
	// Sync, when true, blocks the write until its WAL record is fsynced.
	Sync bool
}

// Sync is a WriteOptions requiring durability before returning.
var Sync = &WriteOptions{Sync: true}

// NoSync is a WriteOptions that returns as soon as the write is visible in
// the memtable, without waiting for the WAL fsync.
var NoSync = &WriteOptions{Sync: false}
