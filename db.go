// Package kvlite is an embedded, ordered key-value store built as a
// log-structured merge tree: writes land in a write-ahead log and a
// skip-list memtable, are flushed to immutable, sorted SSTables, and are
// merged together by a background compactor. Grounded throughout on
// github.com/cockroachdb/pebble's top-level db.go / open.go.
package kvlite

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/kvlite/kvlite/internal/arenaskl"
	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/cache"
	"github.com/kvlite/kvlite/internal/compaction"
	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/memtable"
	"github.com/kvlite/kvlite/internal/metrics"
	"github.com/kvlite/kvlite/internal/sstable"
	"github.com/kvlite/kvlite/internal/vfs"
	"github.com/kvlite/kvlite/internal/wal"
)

// DB is an open key-value database. A *DB is safe for concurrent use by
// multiple goroutines.
type DB struct {
	fs   vfs.FS
	dir  string
	opts *Options
	cmp  base.Compare
	lock io.Closer

	// mu guards the mutable/immutable memtable pointers and the active WAL
	// writer against rotation. Its critical sections are kept short: it is
	// never held across a WAL append, and the only fsync done under it is
	// rotation's sync of the outgoing WAL. Readers never take it; they read
	// memState instead, so a get never blocks on a write.
	mu        sync.Mutex
	flushCond *sync.Cond
	mutable   *memtable.Memtable
	immutable *memtable.Memtable
	walWriter *wal.Writer

	// memState is a lock-free, eventually-consistent snapshot of
	// (mutable, immutable), republished under mu every time either
	// pointer changes. Get and NewIter read it instead of taking mu, so
	// neither ever blocks behind a writer holding mu or fsyncing the WAL.
	memState atomic.Pointer[memTableState]

	// writeMu serializes whole writes of concurrent writers: the memtable
	// room check, the WAL append and the memtable insert (the skip list
	// permits only one inserter at a time). It is taken before mu and is
	// distinct from it, so that a writer blocked on an fsync never holds
	// the lock Get and NewIter would otherwise need.
	writeMu sync.Mutex

	manifestLog *manifest.Manifest
	cache       *cache.Cache
	metrics     *metrics.Metrics

	// versionMu guards the read-modify-write of the current Version and
	// the obsolete-file bookkeeping; readers observe the version via an
	// atomic load and never take this lock.
	versionMu       sync.Mutex
	version         atomic.Pointer[manifest.Version]
	pendingObsolete map[*manifest.Version][]uint64

	nextFileNum atomic.Uint64
	lastSeqNum  atomic.Uint64

	picker   *compaction.Picker
	executor *compaction.Executor

	compactSig chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
	wg         sync.WaitGroup

	// iterMu guards iterSeqCounts, the multiset of as-of sequence numbers
	// held by open Iterators, used to compute oldestLiveSeq for the
	// compactor's duplicate-elision rule.
	iterMu        sync.Mutex
	iterSeqCounts map[base.SeqNum]int
}

// memTableState is the pair of memtable pointers Get and NewIter read
// without a lock; see DB.memState.
type memTableState struct {
	mutable   *memtable.Memtable
	immutable *memtable.Memtable
}

// publishMemState republishes the lock-free snapshot from mutable/
// immutable. Callers must hold mu.
func (db *DB) publishMemState() {
	db.memState.Store(&memTableState{mutable: db.mutable, immutable: db.immutable})
}

// Open creates or recovers the database at dir.
func Open(dir string, opts *Options) (*DB, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	fs := opts.FS
	if err := fs.MkdirAll(dir); err != nil {
		return nil, base.MarkIo(err)
	}
	lock, err := fs.Lock(fs.PathJoin(dir, base.MakeFilename(base.FileTypeLock, 0)))
	if err != nil {
		// Any failure to take the LOCK file is reported as ErrLocked.
		return nil, errors.Wrapf(base.ErrLocked, "%v", err)
	}

	mf, state, err := manifest.Open(fs, dir, base.DefaultCompare)
	if err != nil {
		lock.Close()
		return nil, err
	}

	db := &DB{
		fs:              fs,
		dir:             dir,
		opts:            opts,
		cmp:             base.DefaultCompare,
		lock:            lock,
		manifestLog:     mf,
		cache:           cache.New(opts.BlockCacheBytes),
		metrics:         metrics.New(),
		pendingObsolete: make(map[*manifest.Version][]uint64),
		iterSeqCounts:   make(map[base.SeqNum]int),
		picker:          compaction.NewPicker(base.DefaultCompare, opts.L0CompactionTrigger, opts.LevelBaseBytes),
		compactSig:      make(chan struct{}, 1),
	}
	db.flushCond = sync.NewCond(&db.mu)
	db.cache.SetMetricsHooks(db.metrics.RecordCacheHit, db.metrics.RecordCacheMiss)
	db.version.Store(state.Version)
	db.nextFileNum.Store(state.NextFileNumber)
	db.lastSeqNum.Store(uint64(state.LastSequence))
	db.executor = compaction.NewExecutor(fs, dir, db.cache, db.cmp, db.writerOptions(), 0)

	if err := db.recoverWALs(state.LogNumber); err != nil {
		mf.Close()
		lock.Close()
		return nil, err
	}

	db.wg.Add(1)
	go db.compactLoop()

	return db, nil
}

// recoverWALs replays every WAL file numbered >= fromNum (there are at
// most two: one belonging to a not-yet-flushed immutable memtable and one
// belonging to the mutable memtable, per the rotation scheme in
// rotateMemtableLocked), flushes the result straight to L0 rather than keeping
// it around as the new mutable memtable, and then opens a fresh WAL for
// the mutable memtable going forward.
func (db *DB) recoverWALs(fromNum uint64) error {
	if fromNum != 0 {
		names, err := db.fs.List(db.dir)
		if err != nil {
			return base.MarkIo(err)
		}
		var nums []uint64
		for _, name := range names {
			ft, num, ok := base.ParseFilename(name)
			if ok && ft == base.FileTypeWAL && num >= fromNum {
				nums = append(nums, num)
			}
		}
		sortUint64s(nums)

		mt := memtable.New(db.opts.WriteBufferBytes, fromNum)
		maxSeq := base.SeqNum(db.lastSeqNum.Load())
		for _, num := range nums {
			corrupted, err := wal.Replay(db.fs, db.dir, num, func(k base.InternalKey, v []byte) error {
				if k.SeqNum() > maxSeq {
					maxSeq = k.SeqNum()
				}
				return mt.Insert(k, v)
			})
			if err != nil {
				return err
			}
			if corrupted {
				db.opts.Logger.Infof("kvlite: wal %d has a corrupt tail, stopped replay there", num)
			}
		}
		db.lastSeqNum.Store(uint64(maxSeq))

		if it := mt.NewIter(nil, nil); it.Valid() {
			meta, err := db.writeFlushedTable(mt)
			if err != nil {
				return err
			}
			if _, err := db.applyEdit(&manifest.VersionEdit{
				AddedTables: []manifest.AddedTable{{Level: 0, Meta: meta}},
			}); err != nil {
				return err
			}
			db.metrics.IncFlush()
		}
		for _, num := range nums {
			wal.Delete(db.fs, db.dir, num)
		}
	}

	num := db.allocFileNum()
	ww, err := wal.Create(db.fs, db.dir, num)
	if err != nil {
		return err
	}
	db.walWriter = ww
	db.mutable = memtable.New(db.opts.WriteBufferBytes, num)
	db.publishMemState()
	_, err = db.applyEdit(&manifest.VersionEdit{HasLogNumber: true, LogNumber: num})
	return err
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (db *DB) writerOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockSize:        db.opts.BlockSize,
		RestartInterval:  db.opts.BlockRestartInterval,
		Compression:      db.opts.Compression,
		FilterBitsPerKey: db.opts.FilterBitsPerKey,
	}
}

func (db *DB) allocFileNum() uint64 { return db.nextFileNum.Add(1) - 1 }

func (db *DB) tablePath(fileNum uint64) string {
	return db.fs.PathJoin(db.dir, base.MakeFilename(base.FileTypeTable, fileNum))
}

// applyEdit durably logs edit (stamping in the current file-number and
// sequence-number bookkeeping that every edit carries) and installs the
// resulting Version as current.
func (db *DB) applyEdit(edit *manifest.VersionEdit) (*manifest.Version, error) {
	edit.HasNextFileNumber = true
	edit.NextFileNumber = db.nextFileNum.Load()
	edit.HasLastSequence = true
	edit.LastSequence = base.SeqNum(db.lastSeqNum.Load())

	db.versionMu.Lock()
	defer db.versionMu.Unlock()
	cur := db.version.Load()
	next, err := db.manifestLog.LogAndApply(edit, cur, db.cmp, db.allocFileNum)
	if err != nil {
		return nil, err
	}
	db.version.Store(next)
	for level := 0; level < manifest.NumLevels; level++ {
		db.metrics.SetLevelStats(level, len(next.Levels[level]), next.TotalSize(level))
	}
	return next, nil
}

// retireVersion releases the DB's own reference to v (replaced as current
// by a newer Version) and, once every reference including in-flight
// iterators drops to zero, deletes obsoleteFiles.
func (db *DB) retireVersion(v *manifest.Version, obsoleteFiles []uint64) {
	db.versionMu.Lock()
	if v.Unref() {
		db.versionMu.Unlock()
		db.deleteFiles(obsoleteFiles)
		return
	}
	db.pendingObsolete[v] = obsoleteFiles
	db.versionMu.Unlock()
}

func (db *DB) releaseVersionRef(v *manifest.Version) {
	db.versionMu.Lock()
	if v.Unref() {
		files := db.pendingObsolete[v]
		delete(db.pendingObsolete, v)
		db.versionMu.Unlock()
		if files != nil {
			db.deleteFiles(files)
		}
		return
	}
	db.versionMu.Unlock()
}

func (db *DB) deleteFiles(nums []uint64) {
	for _, num := range nums {
		db.cache.EvictFile(num)
		if err := db.fs.Remove(db.tablePath(num)); err != nil {
			db.opts.Logger.Errorf("kvlite: failed to remove obsolete table %d: %v", num, err)
		}
	}
}

// Get returns the value for userKey, or ErrNotFound.
func (db *DB) Get(userKey []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	st := db.memState.Load()
	if v, res := st.mutable.Get(userKey); res != memtable.LookupNotFound {
		if res == memtable.LookupDeleted {
			return nil, ErrNotFound
		}
		return v, nil
	}
	if st.immutable != nil {
		if v, res := st.immutable.Get(userKey); res != memtable.LookupNotFound {
			if res == memtable.LookupDeleted {
				return nil, ErrNotFound
			}
			return v, nil
		}
	}

	v := db.version.Load()
	v.Ref()
	defer db.releaseVersionRef(v)

	for level := 0; level < manifest.NumLevels; level++ {
		tables := v.Levels[level]
		for i := len(tables) - 1; i >= 0; i-- {
			t := tables[i]
			if !t.Overlaps(db.cmp, userKey, userKey) {
				continue
			}
			value, found, err := db.lookupInTable(t, userKey)
			if err != nil {
				return nil, err
			}
			if found {
				if value == nil {
					return nil, ErrNotFound
				}
				return value, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (db *DB) lookupInTable(t *manifest.TableMetadata, userKey []byte) (value []byte, found bool, err error) {
	f, err := db.fs.Open(db.tablePath(t.FileNum))
	if err != nil {
		return nil, false, base.MarkIo(err)
	}
	defer f.Close()
	r, err := sstable.Open(f, t.FileNum, db.cache, db.cmp)
	if err != nil {
		return nil, false, err
	}
	v, kind, ok, err := r.Get(userKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	if kind == base.InternalKeyKindDelete {
		return nil, true, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set assigns a fresh sequence number and durably appends userKey/value.
func (db *DB) Set(opts *WriteOptions, userKey, value []byte) error {
	return db.write(opts, userKey, value, base.InternalKeyKindSet)
}

// Remove writes a tombstone for userKey.
func (db *DB) Remove(opts *WriteOptions, userKey []byte) error {
	return db.write(opts, userKey, nil, base.InternalKeyKindDelete)
}

func (db *DB) write(opts *WriteOptions, userKey, value []byte, kind base.InternalKeyKind) error {
	if len(userKey) > base.MaxUserKeyLen || len(value) > base.MaxUserValueLen {
		return ErrInvalidArgument
	}
	if opts == nil {
		opts = NoSync
	}

	// writeMu is held for the whole write, so no other writer can insert
	// into the mutable memtable between the room check below and this
	// write's own insert.
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.mu.Lock()
	if db.closed.Load() {
		db.mu.Unlock()
		return ErrClosed
	}
	// The arena holds the encoded key and the value; rotate first when a
	// non-empty memtable has no room left for both.
	need := uint64(base.InternalKey{UserKey: userKey}.Size() + len(value))
	if used := uint64(db.mutable.ApproximateBytes()); used > 0 && used+need > uint64(db.opts.WriteBufferBytes) {
		if err := db.rotateMemtableLocked(); err != nil {
			db.mu.Unlock()
			return err
		}
	}
	seq := base.SeqNum(db.lastSeqNum.Add(1))
	ikey := base.MakeInternalKey(userKey, seq, kind)
	mt := db.mutable
	ww := db.walWriter
	db.mu.Unlock()

	// The WAL append (and its fsync, when opts.Sync is set) and the
	// matching memtable insert happen outside mu: holding mu here would
	// make Get and NewIter wait behind a writer's fsync, even though
	// neither touches mutable/immutable through mu anymore. writeMu
	// still serializes concurrent writers against each other, since the
	// skip list accepts only one inserter at a time.
	if err := ww.Append(ikey, value, opts.Sync); err != nil {
		return err
	}
	db.metrics.AddWALBytes(uint64(ikey.Size() + len(value)))
	if err := mt.Insert(ikey, value); err != nil {
		if errors.Is(err, arenaskl.ErrArenaFull) {
			return base.MarkCorrupt(err, "kvlite: memtable reported full immediately after rotation")
		}
		return err
	}
	return nil
}

// rotateMemtableLocked freezes the mutable memtable and opens a fresh one
// backed by a new WAL, blocking until the previous immutable memtable has
// finished flushing if the single immutable slot is still occupied.
func (db *DB) rotateMemtableLocked() error {
	for db.immutable != nil {
		db.flushCond.Wait()
		if db.closed.Load() {
			return ErrClosed
		}
	}
	if err := db.walWriter.Sync(); err != nil {
		return err
	}
	db.immutable = db.mutable

	num := db.allocFileNum()
	ww, err := wal.Create(db.fs, db.dir, num)
	if err != nil {
		return err
	}
	db.walWriter = ww
	db.mutable = memtable.New(db.opts.WriteBufferBytes, num)
	db.publishMemState()

	db.signalCompaction()
	return nil
}

// signalCompaction wakes the background compactor without blocking if it
// is already busy.
func (db *DB) signalCompaction() {
	select {
	case db.compactSig <- struct{}{}:
	default:
	}
}

// registerIter and unregisterIter track the as-of sequence numbers of
// open Iterators so oldestLiveSeq can report the snapshot floor a
// compaction must not drop entries below.
func (db *DB) registerIter(seq base.SeqNum) {
	db.iterMu.Lock()
	db.iterSeqCounts[seq]++
	db.iterMu.Unlock()
}

func (db *DB) unregisterIter(seq base.SeqNum) {
	db.iterMu.Lock()
	if n := db.iterSeqCounts[seq]; n <= 1 {
		delete(db.iterSeqCounts, seq)
	} else {
		db.iterSeqCounts[seq] = n - 1
	}
	db.iterMu.Unlock()
}

// oldestLiveSeq returns the lowest as-of sequence number held by any open
// Iterator, or lastSeqNum+1 (meaning "nothing to protect") if none are
// open.
func (db *DB) oldestLiveSeq() base.SeqNum {
	db.iterMu.Lock()
	defer db.iterMu.Unlock()
	oldest := base.SeqNum(db.lastSeqNum.Load()) + 1
	for seq := range db.iterSeqCounts {
		if seq < oldest {
			oldest = seq
		}
	}
	return oldest
}

// Metrics returns a snapshot of the database's counters and per-level
// table statistics, grounded on the teacher's own metrics.go.
func (db *DB) Metrics() metrics.Snapshot {
	v := db.version.Load()
	levels := make([]metrics.LevelStats, manifest.NumLevels)
	for i := 0; i < manifest.NumLevels; i++ {
		levels[i] = metrics.LevelStats{Level: i, TableCount: len(v.Levels[i]), Bytes: v.TotalSize(i)}
	}
	return db.metrics.Snapshot(levels)
}

// Close drains the compactor, flushes the mutable memtable if non-empty,
// and releases the database's file lock.
func (db *DB) Close() error {
	var closeErr error
	db.closeOnce.Do(func() {
		db.closed.Store(true)

		db.mu.Lock()
		db.flushCond.Broadcast()
		mt := db.mutable
		walNum := db.walWriter.Num()
		db.mu.Unlock()

		// Closing compactSig (rather than sending on it) wakes compactLoop's
		// select immediately regardless of whether a send is already
		// pending or the channel's buffer is full.
		close(db.compactSig)
		db.wg.Wait()

		if it := mt.NewIter(nil, nil); it.Valid() {
			meta, err := db.writeFlushedTable(mt)
			if err != nil {
				closeErr = err
				return
			}
			if _, err := db.applyEdit(&manifest.VersionEdit{
				AddedTables: []manifest.AddedTable{{Level: 0, Meta: meta}},
			}); err != nil {
				closeErr = err
				return
			}
			db.metrics.IncFlush()
		}

		db.walWriter.Close()
		wal.Delete(db.fs, db.dir, walNum)

		if err := db.manifestLog.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := db.lock.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}
