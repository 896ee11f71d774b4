package kvlite

import (
	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/memtable"
	"github.com/kvlite/kvlite/internal/sstable"
)

// writeFlushedTable drains mt into a freshly allocated L0 table file and
// returns its metadata, ready to be installed by a VersionEdit.
func (db *DB) writeFlushedTable(mt *memtable.Memtable) (*manifest.TableMetadata, error) {
	fileNum := db.allocFileNum()
	f, err := db.fs.Create(db.tablePath(fileNum))
	if err != nil {
		return nil, base.MarkIo(err)
	}

	w := sstable.New(f, fileNum, db.writerOptions())
	it := mt.NewIter(nil, nil)
	for ; it.Valid(); it.Next() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			f.Close()
			return nil, err
		}
	}
	desc, err := w.Finish()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, base.MarkIo(err)
	}

	return &manifest.TableMetadata{
		FileNum:  fileNum,
		Size:     desc.Size,
		Smallest: desc.Smallest,
		Largest:  desc.Largest,
	}, nil
}
