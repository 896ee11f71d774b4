package sstable

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// blockWriter accumulates internal-key/value entries into a single data (or
// index) block, with shared-prefix compression against the previous entry
// and a restart point (full key) every restartInterval entries.
type blockWriter struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
}

func newBlockWriter(restartInterval int) *blockWriter {
	return &blockWriter{restartInterval: restartInterval}
}

// add appends one entry. key is an encoded internal key.
func (w *blockWriter) add(key, value []byte) {
	shared := 0
	if w.counter%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = sharedPrefixLen(w.lastKey, key)
	}
	nonShared := key[shared:]

	w.buf = binary.AppendUvarint(w.buf, uint64(shared))
	w.buf = binary.AppendUvarint(w.buf, uint64(len(nonShared)))
	w.buf = binary.AppendUvarint(w.buf, uint64(len(value)))
	w.buf = append(w.buf, nonShared...)
	w.buf = append(w.buf, value...)

	w.lastKey = append(w.lastKey[:0], key...)
	w.counter++
}

// empty reports whether any entries have been added since the last reset.
func (w *blockWriter) empty() bool { return w.counter == 0 }

// estimatedSize returns the block's size if finished right now.
func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*len(w.restarts) + 4
}

// finish returns the block's uncompressed contents: entries, restart array,
// restart count.
func (w *blockWriter) finish() []byte {
	buf := w.buf
	for _, r := range w.restarts {
		buf = binary.LittleEndian.AppendUint32(buf, r)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(w.restarts)))
	return buf
}

func (w *blockWriter) reset() {
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.counter = 0
	w.lastKey = w.lastKey[:0]
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// sealBlock compresses contents (if requested) and appends the fixed
// trailer: 1 byte compression kind, 4 byte CRC-32C of (compressed ||
// kind byte).
func sealBlock(contents []byte, c Compression) ([]byte, error) {
	compressed, err := compress(c, contents)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(compressed)+blockTrailerLen)
	copy(out, compressed)
	out[len(compressed)] = byte(c)
	checksum := crc32.Checksum(out[:len(compressed)+1], castagnoli)
	binary.LittleEndian.PutUint32(out[len(compressed)+1:], checksum)
	return out, nil
}

// openBlock verifies the trailer's checksum and decompresses the block,
// returning its raw contents (entries + restart array + restart count).
// A checksum mismatch is fatal for the read: there is no redundant copy of
// a data block to fall back on.
func openBlock(raw []byte) ([]byte, error) {
	if len(raw) < blockTrailerLen {
		return nil, errCorruptBlock("short block")
	}
	n := len(raw) - blockTrailerLen
	compressed := raw[:n]
	kind := Compression(raw[n])
	wantChecksum := binary.LittleEndian.Uint32(raw[n+1:])
	gotChecksum := crc32.Checksum(raw[:n+1], castagnoli)
	if gotChecksum != wantChecksum {
		return nil, errCorruptBlock("checksum mismatch")
	}
	return decompress(kind, compressed)
}

// blockReader is a parsed, immutable data (or index) block ready for
// lookup and iteration.
type blockReader struct {
	data     []byte
	restarts []uint32
}

func parseBlock(contents []byte) (*blockReader, error) {
	if len(contents) < 4 {
		return nil, errCorruptBlock("too short to contain restart count")
	}
	numRestarts := binary.LittleEndian.Uint32(contents[len(contents)-4:])
	restartsStart := len(contents) - 4 - int(numRestarts)*4
	if restartsStart < 0 {
		return nil, errCorruptBlock("restart count overruns block")
	}
	restarts := make([]uint32, numRestarts)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(contents[restartsStart+i*4:])
	}
	return &blockReader{data: contents[:restartsStart], restarts: restarts}, nil
}

// decodeEntryAt decodes the entry at offset, given the full key of the
// preceding entry (used to reconstruct a shared-prefix-compressed key).
// It returns the entry's full key, value, and the offset of the next
// entry.
func decodeEntryAt(data []byte, offset int, prevKey []byte) (key, value []byte, next int, ok bool) {
	if offset < 0 || offset >= len(data) {
		return nil, nil, 0, false
	}
	buf := data[offset:]
	shared, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return nil, nil, 0, false
	}
	buf = buf[n1:]
	nonSharedLen, n2 := binary.Uvarint(buf)
	if n2 <= 0 {
		return nil, nil, 0, false
	}
	buf = buf[n2:]
	valueLen, n3 := binary.Uvarint(buf)
	if n3 <= 0 {
		return nil, nil, 0, false
	}
	buf = buf[n3:]
	if int(shared) > len(prevKey) || int(nonSharedLen) > len(buf) {
		return nil, nil, 0, false
	}
	nonShared := buf[:nonSharedLen]
	buf = buf[nonSharedLen:]
	if int(valueLen) > len(buf) {
		return nil, nil, 0, false
	}
	value = buf[:valueLen]

	key = make([]byte, int(shared)+int(nonSharedLen))
	copy(key, prevKey[:shared])
	copy(key[shared:], nonShared)

	next = offset + n1 + n2 + n3 + int(nonSharedLen) + int(valueLen)
	return key, value, next, true
}

// blockIter is a forward cursor over a blockReader.
type blockIter struct {
	r       *blockReader
	offset  int
	key     []byte
	value   []byte
	valid   bool
}

func (r *blockReader) iterAt(offset int) *blockIter {
	it := &blockIter{r: r, offset: offset}
	it.decodeCurrent()
	return it
}

func (it *blockIter) decodeCurrent() {
	key, value, next, ok := decodeEntryAt(it.r.data, it.offset, it.key)
	if !ok {
		it.valid = false
		return
	}
	it.key, it.value, it.offset, it.valid = key, value, next, true
}

func (it *blockIter) Next() {
	if !it.valid {
		return
	}
	it.decodeCurrent()
}

func (it *blockIter) Valid() bool    { return it.valid }
func (it *blockIter) Key() []byte    { return it.key }
func (it *blockIter) Value() []byte  { return it.value }

// seekGE returns an iterator positioned at the first entry with an encoded
// key >= target under cmp, by binary-searching the restart array for the
// containing region and then linear-scanning within it.
func (r *blockReader) seekGE(target []byte, cmp func(a, b []byte) int) *blockIter {
	if len(r.restarts) == 0 {
		return &blockIter{r: r, valid: false}
	}
	lo, hi := 0, len(r.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		key, _, _, ok := decodeEntryAt(r.data, int(r.restarts[mid]), nil)
		if ok && cmp(key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it := r.iterAt(int(r.restarts[lo]))
	for it.Valid() {
		if cmp(it.Key(), target) >= 0 {
			return it
		}
		it.Next()
	}
	return it
}

// first returns an iterator positioned at the block's first entry.
func (r *blockReader) first() *blockIter {
	if len(r.restarts) == 0 {
		return &blockIter{r: r, valid: false}
	}
	return r.iterAt(int(r.restarts[0]))
}
