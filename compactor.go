package kvlite

import (
	"time"

	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/wal"
)

// compactionTickInterval is the idle polling period compactLoop falls back
// to between explicit signalCompaction wakeups, in case a picked
// compaction was skipped under contention and needs retrying.
const compactionTickInterval = 5 * time.Second

// compactLoop is the single background compaction goroutine started by
// Open. It flushes a pending immutable memtable and, once nothing is
// flushable, asks the picker for a compaction to run, looping until the
// database is closed.
func (db *DB) compactLoop() {
	defer db.wg.Done()

	ticker := time.NewTicker(compactionTickInterval)
	defer ticker.Stop()

	for {
		db.doCompactionWork()

		select {
		case _, ok := <-db.compactSig:
			if !ok {
				return
			}
		case <-ticker.C:
		}
		if db.closed.Load() {
			return
		}
	}
}

// doCompactionWork drains all currently available work: first the pending
// immutable memtable flush, then compactions, until a pass finds nothing
// left to do.
func (db *DB) doCompactionWork() {
	for db.maybeFlushImmutable() {
	}
	for db.runOneCompaction() {
	}
}

// maybeFlushImmutable flushes the immutable memtable, if one is pending,
// to a new L0 table and advances the manifest's recorded log_number to the
// mutable memtable's WAL.
func (db *DB) maybeFlushImmutable() bool {
	db.mu.Lock()
	mt := db.immutable
	if mt == nil {
		db.mu.Unlock()
		return false
	}
	newLogNum := db.mutable.LogNum()
	oldWALNum := mt.LogNum()
	db.mu.Unlock()

	meta, err := db.writeFlushedTable(mt)
	if err != nil {
		db.opts.Logger.Errorf("kvlite: flush of wal %d failed: %v", oldWALNum, err)
		return false
	}

	if _, err := db.applyEdit(&manifest.VersionEdit{
		HasLogNumber: true,
		LogNumber:    newLogNum,
		AddedTables:  []manifest.AddedTable{{Level: 0, Meta: meta}},
	}); err != nil {
		db.opts.Logger.Errorf("kvlite: installing flushed table %d failed: %v", meta.FileNum, err)
		return false
	}
	db.metrics.IncFlush()

	db.mu.Lock()
	db.immutable = nil
	db.publishMemState()
	db.flushCond.Broadcast()
	db.mu.Unlock()

	if err := wal.Delete(db.fs, db.dir, oldWALNum); err != nil {
		db.opts.Logger.Errorf("kvlite: removing flushed wal %d failed: %v", oldWALNum, err)
	}
	return true
}

// runOneCompaction asks the picker for one compaction, runs it, and
// installs the result. It returns false when there is nothing left to
// pick, the signal for compactLoop / doCompactionWork to stop looping.
func (db *DB) runOneCompaction() bool {
	// v is read-only for the duration of this call: compactLoop is the only
	// goroutine that ever replaces the current Version, so no extra
	// reference is needed to keep it alive here the way a concurrent reader
	// (Get, NewIter) must take one.
	v := db.version.Load()
	c := db.picker.Pick(v)
	if c == nil {
		return false
	}

	result, err := db.executor.Run(c, v, db.oldestLiveSeq(), db.allocFileNum)
	if err != nil {
		db.opts.Logger.Errorf("kvlite: compaction L%d->L%d failed: %v", c.InputLevel, c.OutputLevel, err)
		return false
	}

	edit := &manifest.VersionEdit{}
	obsolete := make([]uint64, 0, len(result.Deleted))
	for _, d := range result.Deleted {
		edit.DeletedTables = append(edit.DeletedTables, manifest.DeletedTable{Level: d.Level, FileNum: d.Meta.FileNum})
		obsolete = append(obsolete, d.Meta.FileNum)
	}
	for _, a := range result.Added {
		edit.AddedTables = append(edit.AddedTables, manifest.AddedTable{
			Level: a.Level,
			Meta: &manifest.TableMetadata{
				FileNum:  a.Desc.FileNum,
				Size:     a.Desc.Size,
				Smallest: a.Desc.Smallest,
				Largest:  a.Desc.Largest,
			},
		})
	}

	if _, err := db.applyEdit(edit); err != nil {
		// applyEdit failed before installing a new Version, so v is still
		// current and still holds its own is-current reference: don't
		// touch its refcount here, only retireVersion/releaseVersionRef on
		// the success path below may ever unref it.
		db.opts.Logger.Errorf("kvlite: installing compaction L%d->L%d failed: %v", c.InputLevel, c.OutputLevel, err)
		return false
	}
	db.metrics.IncCompaction()
	db.retireVersion(v, obsolete)
	return true
}
