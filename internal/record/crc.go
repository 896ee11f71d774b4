package record

import "hash/crc32"

// castagnoli is the CRC-32C polynomial table used by the record format (and
// by the teacher's internal/crc package). hash/crc32 is the standard
// library's implementation of exactly this table-driven algorithm, so there
// is no third-party CRC32C package in the example pack worth reaching for
// here; see DESIGN.md.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// crc is a CRC-32C checksum, matching the teacher's internal/crc.CRC type:
// a value type so callers can build up a checksum by chaining Update calls
// without an intermediate hash.Hash allocation.
type crc uint32

func newCRC(b []byte) crc { return crc(crc32.Checksum(b, castagnoli)) }

func (c crc) update(b []byte) crc {
	return crc(crc32.Update(uint32(c), castagnoli, b))
}

// value masks the checksum the way LevelDB does: rotate right by 15 bits
// and add a constant.
func (c crc) value() uint32 {
	return uint32(c>>15|c<<17) + 0xa282ead8
}
