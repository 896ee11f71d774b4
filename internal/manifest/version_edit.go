package manifest

import (
	"encoding/binary"
	"io"

	"github.com/kvlite/kvlite/internal/base"
)

// Tags identifying each field of an encoded VersionEdit.
const (
	tagComparatorName  = 1
	tagLogNumber       = 2
	tagNextFileNumber  = 3
	tagLastSequence    = 4
	tagDeletedTable    = 5
	tagAddedTable      = 6
)

// DeletedTable names a table removed from a level by a VersionEdit.
type DeletedTable struct {
	Level   int
	FileNum uint64
}

// AddedTable names a table added to a level by a VersionEdit.
type AddedTable struct {
	Level int
	Meta  *TableMetadata
}

// VersionEdit is an incremental, append-only change to a Version, the unit
// of durability for the table tree. Every field is optional except
// that a bootstrap edit always sets ComparatorName.
type VersionEdit struct {
	ComparatorName string

	HasLogNumber bool
	LogNumber    uint64

	HasNextFileNumber bool
	NextFileNumber    uint64

	HasLastSequence bool
	LastSequence    base.SeqNum

	DeletedTables []DeletedTable
	AddedTables   []AddedTable
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendInternalKey(buf []byte, k base.InternalKey) []byte {
	encoded := k.EncodeToBytes()
	buf = binary.AppendUvarint(buf, uint64(len(encoded)))
	return append(buf, encoded...)
}

// Encode serializes the edit as a sequence of tagged fields.
func (e *VersionEdit) Encode() []byte {
	var buf []byte
	if e.ComparatorName != "" {
		buf = binary.AppendUvarint(buf, tagComparatorName)
		buf = appendString(buf, e.ComparatorName)
	}
	if e.HasLogNumber {
		buf = binary.AppendUvarint(buf, tagLogNumber)
		buf = binary.AppendUvarint(buf, e.LogNumber)
	}
	if e.HasNextFileNumber {
		buf = binary.AppendUvarint(buf, tagNextFileNumber)
		buf = binary.AppendUvarint(buf, e.NextFileNumber)
	}
	if e.HasLastSequence {
		buf = binary.AppendUvarint(buf, tagLastSequence)
		buf = binary.AppendUvarint(buf, uint64(e.LastSequence))
	}
	for _, d := range e.DeletedTables {
		buf = binary.AppendUvarint(buf, tagDeletedTable)
		buf = binary.AppendUvarint(buf, uint64(d.Level))
		buf = binary.AppendUvarint(buf, d.FileNum)
	}
	for _, a := range e.AddedTables {
		buf = binary.AppendUvarint(buf, tagAddedTable)
		buf = binary.AppendUvarint(buf, uint64(a.Level))
		buf = binary.AppendUvarint(buf, a.Meta.FileNum)
		buf = binary.AppendUvarint(buf, a.Meta.Size)
		buf = appendInternalKey(buf, a.Meta.Smallest)
		buf = appendInternalKey(buf, a.Meta.Largest)
	}
	return buf
}

type editDecoder struct {
	buf []byte
}

func (d *editDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *editDecoder) bytesField() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(d.buf)) < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b, nil
}

func (d *editDecoder) internalKey() (base.InternalKey, error) {
	b, err := d.bytesField()
	if err != nil {
		return base.InternalKey{}, err
	}
	return base.DecodeInternalKey(b), nil
}

// DecodeVersionEdit parses buf, the exact wire format written by Encode.
// An unrecognized tag is a corrupt manifest, not a forward-compatible
// extension: kvlite has one manifest writer and one reader.
func DecodeVersionEdit(buf []byte) (*VersionEdit, error) {
	d := &editDecoder{buf: buf}
	e := &VersionEdit{}
	for len(d.buf) > 0 {
		tag, err := d.uvarint()
		if err != nil {
			return nil, wrapCorrupt(err)
		}
		switch tag {
		case tagComparatorName:
			b, err := d.bytesField()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.ComparatorName = string(b)
		case tagLogNumber:
			v, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.LogNumber, e.HasLogNumber = v, true
		case tagNextFileNumber:
			v, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.NextFileNumber, e.HasNextFileNumber = v, true
		case tagLastSequence:
			v, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.LastSequence, e.HasLastSequence = base.SeqNum(v), true
		case tagDeletedTable:
			level, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			fileNum, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.DeletedTables = append(e.DeletedTables, DeletedTable{Level: int(level), FileNum: fileNum})
		case tagAddedTable:
			level, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			fileNum, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			size, err := d.uvarint()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			smallest, err := d.internalKey()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			largest, err := d.internalKey()
			if err != nil {
				return nil, wrapCorrupt(err)
			}
			e.AddedTables = append(e.AddedTables, AddedTable{
				Level: int(level),
				Meta: &TableMetadata{
					FileNum:  fileNum,
					Size:     size,
					Smallest: smallest,
					Largest:  largest,
				},
			})
		default:
			return nil, base.MarkCorrupt(nil, "manifest: unknown version edit tag %d", tag)
		}
	}
	return e, nil
}

func wrapCorrupt(err error) error {
	return base.MarkCorrupt(err, "manifest: truncated version edit")
}
