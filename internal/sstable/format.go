// Package sstable implements the on-disk sorted-string-table format: the
// writer, reader and shared block layout.
//
// A sealed SSTable is a sequence of data blocks, an optional filter block,
// an index block, and a fixed 48-byte footer. Every block (data or index)
// shares the same physical trailer: the block body is optionally
// compressed, then followed by one byte naming the compression kind and a
// 4-byte CRC-32C of (compressed body || compression byte). This ordering
// (checksum last, covering the compression byte) follows the teacher's
// sstable/block package; only the footer's external shape (below) is part
// of the on-disk contract.
package sstable

import "encoding/binary"

const (
	// TargetBlockSize is the target uncompressed size of a data block
	// before it is sealed.
	TargetBlockSize = 4 * 1024
	// DefaultRestartInterval is the number of entries between full-key
	// restart points within a data block.
	DefaultRestartInterval = 16
	// blockTrailerLen is the length, in bytes, of the fixed trailer
	// appended after every block's (possibly compressed) body:
	// 1 byte compression kind + 4 byte CRC-32C.
	blockTrailerLen = 5

	// FooterLen is the fixed size of the SSTable footer.
	FooterLen = 48
	// Magic is the footer's format magic number.
	Magic = 0x57A1C0FE
	// FormatVersion is the current on-disk format version.
	FormatVersion = 1
)

// Footer is the fixed-size trailer at the end of every sealed SSTable.
type Footer struct {
	FilterOffset uint64
	FilterSize   uint64
	IndexOffset  uint64
	IndexSize    uint64
	Version      uint32
}

// Encode writes the footer's wire representation:
// u64(filter_offset) || u64(filter_size) || u64(index_offset) ||
// u64(index_size) || u64(0 padding) || u32(format_version) || u32(magic).
func (f Footer) Encode() [FooterLen]byte {
	var buf [FooterLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.FilterOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.FilterSize)
	binary.LittleEndian.PutUint64(buf[16:24], f.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.IndexSize)
	// buf[32:40] is the reserved zero-padding field.
	binary.LittleEndian.PutUint32(buf[40:44], f.Version)
	binary.LittleEndian.PutUint32(buf[44:48], Magic)
	return buf
}

// DecodeFooter parses a footer from the trailing FooterLen bytes of an
// SSTable file. It fails if the magic or format version is unrecognized.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterLen {
		return Footer{}, errCorruptFooter("wrong length")
	}
	magic := binary.LittleEndian.Uint32(buf[44:48])
	if magic != Magic {
		return Footer{}, errCorruptFooter("bad magic")
	}
	version := binary.LittleEndian.Uint32(buf[40:44])
	if version != FormatVersion {
		return Footer{}, errUnsupportedVersion(version)
	}
	return Footer{
		FilterOffset: binary.LittleEndian.Uint64(buf[0:8]),
		FilterSize:   binary.LittleEndian.Uint64(buf[8:16]),
		IndexOffset:  binary.LittleEndian.Uint64(buf[16:24]),
		IndexSize:    binary.LittleEndian.Uint64(buf[24:32]),
		Version:      version,
	}, nil
}
