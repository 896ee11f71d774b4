package compaction

import (
	"bytes"
	"container/heap"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/cache"
	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/sstable"
	"github.com/kvlite/kvlite/internal/vfs"
)

// DefaultTargetFileSize is the output file size a compaction rolls over
// at.
const DefaultTargetFileSize = 2 << 20

// DefaultGrandparentOverlapMultiplier bounds max_grandparent_overlap_bytes
// as a multiple of the target file size (default 10x target).
const DefaultGrandparentOverlapMultiplier = 10

// AddedOutput is one new SSTable produced by a compaction, destined for
// OutputLevel.
type AddedOutput struct {
	Level int
	Desc  *sstable.Descriptor
}

// DeletedInput is one input table consumed by a compaction.
type DeletedInput struct {
	Level int
	Meta  *manifest.TableMetadata
}

// Result is the effect of running a Compaction: the input files to delete
// and the output files to add, from which the caller builds a VersionEdit.
type Result struct {
	Deleted []DeletedInput
	Added   []AddedOutput
}

// Executor runs picked compactions.
type Executor struct {
	fs             vfs.FS
	dir            string
	cache          *cache.Cache
	cmp            base.Compare
	writerOpts     sstable.WriterOptions
	targetFileSize uint64
	maxGPOverlap   uint64
}

// NewExecutor returns an Executor writing output tables under dir.
func NewExecutor(fs vfs.FS, dir string, c *cache.Cache, cmp base.Compare, writerOpts sstable.WriterOptions, targetFileSize uint64) *Executor {
	if targetFileSize == 0 {
		targetFileSize = DefaultTargetFileSize
	}
	return &Executor{
		fs:             fs,
		dir:            dir,
		cache:          c,
		cmp:            cmp,
		writerOpts:     writerOpts,
		targetFileSize: targetFileSize,
		maxGPOverlap:   targetFileSize * DefaultGrandparentOverlapMultiplier,
	}
}

func (e *Executor) tablePath(fileNum uint64) string {
	return e.fs.PathJoin(e.dir, base.MakeFilename(base.FileTypeTable, fileNum))
}

func (e *Executor) openInput(t *manifest.TableMetadata) (*sstable.Reader, error) {
	f, err := e.fs.Open(e.tablePath(t.FileNum))
	if err != nil {
		return nil, base.MarkIo(err)
	}
	return sstable.Open(f, t.FileNum, e.cache, e.cmp)
}

// Run executes c against v (for the tombstone-elision check against higher
// levels) with oldestLiveSeq as the snapshot floor, and returns the
// resulting added/deleted tables. nextFileNum allocates a fresh output
// file number on demand.
func (e *Executor) Run(c *Compaction, v *manifest.Version, oldestLiveSeq base.SeqNum, nextFileNum func() uint64) (*Result, error) {
	inputs := c.AllInputs()
	readers := make([]*sstable.Reader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	h := &mergeHeap{less: func(a, b *mergeSource) bool {
		return base.InternalCompare(e.cmp, a.it.Key(), b.it.Key()) < 0
	}}
	for _, t := range inputs {
		r, err := e.openInput(t)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
		it := r.NewIter()
		it.First()
		if it.Valid() {
			heap.Push(h, &mergeSource{it: it})
		}
	}

	result := &Result{}
	for _, t := range c.Inputs {
		result.Deleted = append(result.Deleted, DeletedInput{Level: c.InputLevel, Meta: t})
	}
	for _, t := range c.Parents {
		result.Deleted = append(result.Deleted, DeletedInput{Level: c.OutputLevel, Meta: t})
	}

	var (
		writer       *sstable.Writer
		writerFile   vfs.File
		writerNum    uint64
		lastUserKey  []byte
		haveLastKey  bool
		gpOverlapRun uint64
		gpIdx        int
	)

	finishOutput := func() error {
		if writer == nil {
			return nil
		}
		desc, err := writer.Finish()
		if err != nil {
			writerFile.Close()
			return err
		}
		if err := writerFile.Close(); err != nil {
			return base.MarkIo(err)
		}
		result.Added = append(result.Added, AddedOutput{Level: c.OutputLevel, Desc: desc})
		writer = nil
		gpOverlapRun = 0
		return nil
	}

	openOutput := func() error {
		writerNum = nextFileNum()
		f, err := e.fs.Create(e.tablePath(writerNum))
		if err != nil {
			return base.MarkIo(err)
		}
		writerFile = f
		writer = sstable.New(f, writerNum, e.writerOpts)
		return nil
	}

	// advanceGrandparentOverlap accounts bytes from c.Grandparents tables
	// whose range has just been entered by userKey, approximating the
	// overlap a real rollover check would compute exactly.
	advanceGrandparentOverlap := func(userKey []byte) {
		for gpIdx < len(c.Grandparents) && e.cmp(c.Grandparents[gpIdx].Largest.UserKey, userKey) < 0 {
			gpIdx++
		}
		if gpIdx < len(c.Grandparents) && c.Grandparents[gpIdx].Overlaps(e.cmp, userKey, userKey) {
			gpOverlapRun += c.Grandparents[gpIdx].Size
		}
	}

	emit := func(key base.InternalKey, value []byte) error {
		if writer == nil {
			if err := openOutput(); err != nil {
				return err
			}
		}
		return writer.Add(key, value)
	}

	for h.Len() > 0 {
		top := h.sources[0]
		key := top.it.Key()
		value := append([]byte(nil), top.it.Value()...)
		userKey := append([]byte(nil), key.UserKey...)

		newUserKey := !haveLastKey || !bytes.Equal(userKey, lastUserKey)
		if newUserKey {
			lastUserKey = userKey
			haveLastKey = true

			if writer != nil && (writer.EstimatedSize() >= e.targetFileSize || gpOverlapRun >= e.maxGPOverlap) {
				if err := finishOutput(); err != nil {
					return nil, err
				}
			}
			advanceGrandparentOverlap(userKey)

			drop := key.Kind() == base.InternalKeyKindDelete && !isKeyInHigherLevels(v, c.OutputLevel, e.cmp, userKey)
			if !drop {
				if err := emit(key, value); err != nil {
					return nil, err
				}
			}
		} else if key.SeqNum() >= oldestLiveSeq {
			if err := emit(key, value); err != nil {
				return nil, err
			}
		}

		top.it.Next()
		if top.it.Valid() {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}

	if err := finishOutput(); err != nil {
		return nil, err
	}
	return result, nil
}

// isKeyInHigherLevels conservatively reports whether userKey might be
// present in any table at a level beyond outputLevel, by range overlap
// rather than exact membership; over-reporting only costs an un-dropped
// tombstone, never an incorrect drop.
func isKeyInHigherLevels(v *manifest.Version, outputLevel int, cmp base.Compare, userKey []byte) bool {
	for level := outputLevel + 1; level < manifest.NumLevels; level++ {
		for _, t := range v.Levels[level] {
			if t.Overlaps(cmp, userKey, userKey) {
				return true
			}
		}
	}
	return false
}
