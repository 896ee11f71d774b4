package base

import (
	"encoding/binary"
)

// EncodeRecord encodes a key/value pair using the shared logical-record
// codec: varint(user_key_len) || user_key || u64(sequence<<8|kind) ||
// varint(value_len) || value. This is the wire format shared by SSTable
// data blocks and WAL/manifest logical records.
func EncodeRecord(key InternalKey, value []byte) []byte {
	size := binary.MaxVarintLen64 + len(key.UserKey) + 8 + binary.MaxVarintLen64 + len(value)
	buf := make([]byte, size)
	n := binary.PutUvarint(buf, uint64(len(key.UserKey)))
	n += copy(buf[n:], key.UserKey)
	binary.LittleEndian.PutUint64(buf[n:], uint64(key.Trailer))
	n += 8
	n += binary.PutUvarint(buf[n:], uint64(len(value)))
	n += copy(buf[n:], value)
	return buf[:n]
}

// DecodeRecord is the inverse of EncodeRecord. It fails with a
// MarkCorrupt-wrapped error on truncated input, unknown write kind, or a
// length that would overrun the buffer.
func DecodeRecord(buf []byte) (key InternalKey, value []byte, err error) {
	keyLen, n := binary.Uvarint(buf)
	if n <= 0 || keyLen > uint64(len(buf)-n) {
		return InternalKey{}, nil, MarkCorrupt(nil, "record: truncated user key")
	}
	buf = buf[n:]
	userKey := buf[:keyLen]
	buf = buf[keyLen:]

	if len(buf) < 8 {
		return InternalKey{}, nil, MarkCorrupt(nil, "record: truncated trailer")
	}
	trailer := InternalKeyTrailer(binary.LittleEndian.Uint64(buf))
	buf = buf[8:]
	if kind := trailer.Kind(); kind != InternalKeyKindSet && kind != InternalKeyKindDelete {
		return InternalKey{}, nil, MarkCorrupt(nil, "record: unknown write kind %d", kind)
	}

	valLen, n := binary.Uvarint(buf)
	if n <= 0 || valLen > uint64(len(buf)-n) {
		return InternalKey{}, nil, MarkCorrupt(nil, "record: truncated value")
	}
	buf = buf[n:]
	value = buf[:valLen]

	return InternalKey{UserKey: userKey, Trailer: trailer}, value, nil
}
