package sstable

import (
	"bytes"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/bloom"
	"github.com/kvlite/kvlite/internal/cache"
	"github.com/kvlite/kvlite/internal/vfs"
)

// Reader opens a sealed SSTable for point lookups and range iteration.
type Reader struct {
	f       vfs.File
	fileNum uint64
	cache   *cache.Cache
	cmp     base.Compare

	footer Footer
	index  *blockReader
	filter []byte // raw filter bytes, nil if the table has none
}

// Open reads f's footer, index block, and filter block (if present) and
// returns a ready Reader. c may be nil to disable block caching.
func Open(f vfs.File, fileNum uint64, c *cache.Cache, cmp base.Compare) (*Reader, error) {
	size, err := f.Size()
	if err != nil {
		return nil, base.MarkIo(err)
	}
	if size < FooterLen {
		return nil, errCorruptFooter("file shorter than footer")
	}
	footerBuf := make([]byte, FooterLen)
	if _, err := f.ReadAt(footerBuf, size-FooterLen); err != nil {
		return nil, base.MarkIo(err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	indexRaw := make([]byte, footer.IndexSize)
	if _, err := f.ReadAt(indexRaw, int64(footer.IndexOffset)); err != nil {
		return nil, base.MarkIo(err)
	}
	indexContents, err := openBlock(indexRaw)
	if err != nil {
		return nil, err
	}
	index, err := parseBlock(indexContents)
	if err != nil {
		return nil, err
	}

	var filter []byte
	if footer.FilterSize > 0 {
		filter = make([]byte, footer.FilterSize)
		if _, err := f.ReadAt(filter, int64(footer.FilterOffset)); err != nil {
			return nil, base.MarkIo(err)
		}
	}

	return &Reader{f: f, fileNum: fileNum, cache: c, cmp: cmp, footer: footer, index: index, filter: filter}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) cmpEncoded(a, b []byte) int {
	return base.InternalCompare(r.cmp, base.DecodeInternalKey(a), base.DecodeInternalKey(b))
}

func (r *Reader) readDataBlock(offset, length uint64) (*blockReader, error) {
	load := func() ([]byte, error) {
		buf := make([]byte, length)
		if _, err := r.f.ReadAt(buf, int64(offset)); err != nil {
			return nil, err
		}
		return openBlock(buf)
	}
	var contents []byte
	var err error
	if r.cache != nil {
		contents, err = r.cache.GetOrLoad(cache.Key{FileNum: r.fileNum, Offset: offset}, load)
	} else {
		contents, err = load()
	}
	if err != nil {
		return nil, base.MarkIo(err)
	}
	return parseBlock(contents)
}

// Get performs a point lookup for userKey: a bloom filter check, then an
// index seek to the containing data block, then a seek within that block.
func (r *Reader) Get(userKey []byte) (value []byte, kind base.InternalKeyKind, found bool, err error) {
	if r.filter != nil && !bloom.MayContain(r.filter, userKey) {
		return nil, 0, false, nil
	}
	search := base.MakeSearchKey(userKey).EncodeToBytes()

	idxIt := r.index.seekGE(search, r.cmpEncoded)
	if !idxIt.Valid() {
		return nil, 0, false, nil
	}
	offset, length, ok := decodeBlockHandle(idxIt.Value())
	if !ok {
		return nil, 0, false, errCorruptBlock("bad index handle")
	}
	block, err := r.readDataBlock(offset, length)
	if err != nil {
		return nil, 0, false, err
	}
	dataIt := block.seekGE(search, r.cmpEncoded)
	if !dataIt.Valid() {
		return nil, 0, false, nil
	}
	ikey := base.DecodeInternalKey(dataIt.Key())
	if !bytes.Equal(ikey.UserKey, userKey) {
		return nil, 0, false, nil
	}
	return dataIt.Value(), ikey.Kind(), true, nil
}

// Smallest/Largest bounds, index size, etc. are tracked by the manifest's
// TableMetadata, not re-derived from the Reader, to avoid re-parsing the
// file on every Version load.

// Iterator is a forward cursor over an SSTable's entries.
type Iterator struct {
	r      *Reader
	idxIt  *blockIter
	dataIt *blockIter
	err    error
}

// NewIter returns a new, unpositioned Iterator.
func (r *Reader) NewIter() *Iterator { return &Iterator{r: r} }

// Error returns the first error encountered during iteration, if any.
func (it *Iterator) Error() error { return it.err }

func (it *Iterator) advanceToNextBlock(search []byte, useSeek bool) {
	for it.idxIt.Valid() {
		offset, length, ok := decodeBlockHandle(it.idxIt.Value())
		if !ok {
			it.err = errCorruptBlock("bad index handle")
			it.dataIt = nil
			return
		}
		block, err := it.r.readDataBlock(offset, length)
		if err != nil {
			it.err = err
			it.dataIt = nil
			return
		}
		var dIt *blockIter
		if useSeek {
			dIt = block.seekGE(search, it.r.cmpEncoded)
		} else {
			dIt = block.first()
		}
		if dIt.Valid() {
			it.dataIt = dIt
			return
		}
		it.idxIt.Next()
	}
	it.dataIt = nil
}

// SeekGE positions the iterator at the first entry with an internal key
// encoding >= the search key for userKey.
func (it *Iterator) SeekGE(userKey []byte) {
	search := base.MakeSearchKey(userKey).EncodeToBytes()
	it.idxIt = it.r.index.seekGE(search, it.r.cmpEncoded)
	it.advanceToNextBlock(search, true)
}

// First positions the iterator at the table's first entry.
func (it *Iterator) First() {
	it.idxIt = it.r.index.first()
	it.advanceToNextBlock(nil, false)
}

// Next advances the iterator.
func (it *Iterator) Next() {
	if it.dataIt == nil {
		return
	}
	it.dataIt.Next()
	if it.dataIt.Valid() {
		return
	}
	it.idxIt.Next()
	it.advanceToNextBlock(nil, false)
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.dataIt != nil && it.dataIt.Valid() }

// Key returns the decoded internal key at the current position.
func (it *Iterator) Key() base.InternalKey { return base.DecodeInternalKey(it.dataIt.Key()) }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.dataIt.Value() }
