package sstable

import (
	"github.com/cockroachdb/errors"

	"github.com/kvlite/kvlite/internal/base"
)

func errCorruptFooter(reason string) error {
	return errors.Mark(errors.Newf("sstable: corrupt footer: %s", reason), base.ErrCorrupt)
}

func errCorruptBlock(reason string) error {
	return errors.Mark(errors.Newf("sstable: corrupt block: %s", reason), base.ErrCorrupt)
}

func errUnsupportedVersion(v uint32) error {
	return errors.Mark(errors.Newf("sstable: unsupported format version %d", v), base.ErrUnsupported)
}

func errUnsupportedCompression(c Compression) error {
	return errors.Mark(errors.Newf("sstable: unsupported compression kind %d", c), base.ErrUnsupported)
}
