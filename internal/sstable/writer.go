package sstable

import (
	"encoding/binary"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/bloom"
	"github.com/kvlite/kvlite/internal/vfs"
)

// WriterOptions configures an SSTable Writer.
type WriterOptions struct {
	BlockSize       int // defaults to TargetBlockSize
	RestartInterval int // defaults to DefaultRestartInterval
	Compression     Compression
	FilterBitsPerKey uint32 // 0 disables the filter block
}

func (o *WriterOptions) ensureDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = TargetBlockSize
	}
	if o.RestartInterval <= 0 {
		o.RestartInterval = DefaultRestartInterval
	}
}

// Descriptor summarizes a sealed SSTable, enough to register it in a
// Version.
type Descriptor struct {
	FileNum  uint64
	Smallest base.InternalKey
	Largest  base.InternalKey
	Size     uint64
}

// Writer builds a single sealed SSTable from a strictly increasing stream
// of (internal_key, value) pairs.
type Writer struct {
	f       vfs.File
	fileNum uint64
	opts    WriterOptions

	dataBlock  *blockWriter
	indexBlock *blockWriter
	filter     *bloom.Writer

	offset       uint64
	lastKey      base.InternalKey
	lastKeyBytes []byte
	smallest     base.InternalKey
	largest      base.InternalKey
	hasEntries   bool
}

// New creates a Writer that will append to f (already truncated/empty) and
// be identified as fileNum once installed in a Version.
func New(f vfs.File, fileNum uint64, opts WriterOptions) *Writer {
	opts.ensureDefaults()
	w := &Writer{
		f:          f,
		fileNum:    fileNum,
		opts:       opts,
		dataBlock:  newBlockWriter(opts.RestartInterval),
		indexBlock: newBlockWriter(1), // index blocks restart on every entry
	}
	if opts.FilterBitsPerKey > 0 {
		w.filter = bloom.NewWriter(opts.FilterBitsPerKey)
	}
	return w
}

// Add appends one entry. Keys must be added in strictly increasing internal
// key order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	encoded := key.EncodeToBytes()
	if w.filter != nil {
		w.filter.AddKey(key.UserKey)
	}
	w.dataBlock.add(encoded, value)

	if !w.hasEntries {
		w.smallest = key.Clone()
		w.hasEntries = true
	}
	w.largest = key.Clone()
	w.lastKey = key
	w.lastKeyBytes = encoded

	if w.dataBlock.estimatedSize() >= w.opts.BlockSize {
		if err := w.finishDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

// finishDataBlock seals the current data block, writes it to disk, and
// records its index entry using the *previous* block's last key as the
// separator basis once the next block's first key is known; to keep things
// simple and still satisfy "separator >= last key of block, < first key of
// next", the separator used here is exactly the sealed block's last key
// (a valid, if not maximally short, separator).
func (w *Writer) finishDataBlock() error {
	if w.dataBlock.empty() {
		return nil
	}
	sealed, err := sealBlock(w.dataBlock.finish(), w.opts.Compression)
	if err != nil {
		return err
	}
	blockOffset := w.offset
	if _, err := w.f.Write(sealed); err != nil {
		return base.MarkIo(err)
	}
	w.offset += uint64(len(sealed))
	w.dataBlock.reset()

	handle := encodeBlockHandle(blockOffset, uint64(len(sealed)))
	w.indexBlock.add(w.lastKeyBytes, handle)
	return nil
}

func encodeBlockHandle(offset, length uint64) []byte {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, offset)
	buf = binary.AppendUvarint(buf, length)
	return buf
}

func decodeBlockHandle(buf []byte) (offset, length uint64, ok bool) {
	offset, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return 0, 0, false
	}
	length, n2 := binary.Uvarint(buf[n1:])
	if n2 <= 0 {
		return 0, 0, false
	}
	return offset, length, true
}

// EstimatedSize returns the table's size so far, including the
// not-yet-flushed tail data block, for callers deciding when to roll over
// to a new output file during compaction.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.dataBlock.estimatedSize())
}

// Finish flushes the tail data block, writes the filter and index blocks,
// writes the footer, fsyncs the file, and returns the table's descriptor.
func (w *Writer) Finish() (*Descriptor, error) {
	if err := w.finishDataBlock(); err != nil {
		return nil, err
	}

	var footer Footer
	if w.filter != nil {
		if filterBytes := w.filter.Finish(); filterBytes != nil {
			footer.FilterOffset = w.offset
			footer.FilterSize = uint64(len(filterBytes))
			if _, err := w.f.Write(filterBytes); err != nil {
				return nil, base.MarkIo(err)
			}
			w.offset += footer.FilterSize
		}
	}

	indexContents := w.indexBlock.finish()
	sealedIndex, err := sealBlock(indexContents, w.opts.Compression)
	if err != nil {
		return nil, err
	}
	footer.IndexOffset = w.offset
	footer.IndexSize = uint64(len(sealedIndex))
	if _, err := w.f.Write(sealedIndex); err != nil {
		return nil, base.MarkIo(err)
	}
	w.offset += footer.IndexSize

	footer.Version = FormatVersion
	encoded := footer.Encode()
	if _, err := w.f.Write(encoded[:]); err != nil {
		return nil, base.MarkIo(err)
	}
	w.offset += uint64(len(encoded))

	if err := w.f.Sync(); err != nil {
		return nil, base.MarkIo(err)
	}

	return &Descriptor{
		FileNum:  w.fileNum,
		Smallest: w.smallest,
		Largest:  w.largest,
		Size:     w.offset,
	}, nil
}
