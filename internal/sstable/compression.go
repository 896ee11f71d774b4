package sstable

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression names the block compression codec. Each block is compressed
// independently, with two real backends: Snappy for speed, zstd for ratio.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
)

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(data, nil)
		enc.Close()
		return out, nil
	default:
		return nil, errUnsupportedCompression(c)
	}
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(data, nil)
		dec.Close()
		return out, err
	default:
		return nil, errUnsupportedCompression(c)
	}
}
