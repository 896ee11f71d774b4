package compaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/manifest"
	"github.com/kvlite/kvlite/internal/sstable"
	"github.com/kvlite/kvlite/internal/vfs"
)

func meta(fileNum uint64, smallest, largest string, size uint64) *manifest.TableMetadata {
	return &manifest.TableMetadata{
		FileNum:  fileNum,
		Size:     size,
		Smallest: base.MakeInternalKey([]byte(smallest), 1, base.InternalKeyKindSet),
		Largest:  base.MakeInternalKey([]byte(largest), 1, base.InternalKeyKindSet),
	}
}

func TestPickerTriggersOnL0Count(t *testing.T) {
	p := NewPicker(base.DefaultCompare, 4, DefaultBaseBytes)
	v := manifest.NewVersion()
	v = v.Apply(&manifest.VersionEdit{AddedTables: []manifest.AddedTable{
		{Level: 0, Meta: meta(1, "a", "b", 10)},
		{Level: 0, Meta: meta(2, "c", "d", 10)},
		{Level: 0, Meta: meta(3, "e", "f", 10)},
	}}, base.DefaultCompare)

	require.Nil(t, p.Pick(v), "below trigger, no compaction picked")

	v = v.Apply(&manifest.VersionEdit{AddedTables: []manifest.AddedTable{
		{Level: 0, Meta: meta(4, "g", "h", 10)},
	}}, base.DefaultCompare)

	c := p.Pick(v)
	require.NotNil(t, c)
	require.Equal(t, 0, c.InputLevel)
	require.Equal(t, 1, c.OutputLevel)
	require.Len(t, c.Inputs, 4)
}

func TestPickerTriggersOnLevelByteSize(t *testing.T) {
	p := NewPicker(base.DefaultCompare, 100, 50)
	v := manifest.NewVersion()
	v = v.Apply(&manifest.VersionEdit{AddedTables: []manifest.AddedTable{
		{Level: 1, Meta: meta(1, "a", "m", 600)},
	}}, base.DefaultCompare)

	c := p.Pick(v)
	require.NotNil(t, c)
	require.Equal(t, 1, c.InputLevel)
	require.Equal(t, 2, c.OutputLevel)
}

func buildInputTable(t *testing.T, fs vfs.FS, dir string, fileNum uint64, entries map[string]string, seqBase base.SeqNum) *manifest.TableMetadata {
	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeTable, fileNum))
	f, err := fs.Create(name)
	require.NoError(t, err)

	w := sstable.New(f, fileNum, sstable.WriterOptions{})
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	// keys must be inserted in increasing order.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for i, k := range keys {
		ik := base.MakeInternalKey([]byte(k), seqBase+base.SeqNum(i), base.InternalKeyKindSet)
		require.NoError(t, w.Add(ik, []byte(entries[k])))
	}
	desc, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return &manifest.TableMetadata{FileNum: fileNum, Size: desc.Size, Smallest: desc.Smallest, Largest: desc.Largest}
}

func TestExecutorMergesAndDeduplicates(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("db"))

	t1 := buildInputTable(t, fs, "db", 1, map[string]string{
		"a": "old-a", "b": "old-b",
	}, 1)
	t2 := buildInputTable(t, fs, "db", 2, map[string]string{
		"a": "new-a", "c": "new-c",
	}, 100)

	c := &Compaction{
		InputLevel:  0,
		OutputLevel: 1,
		Inputs:      []*manifest.TableMetadata{t2, t1},
	}

	e := NewExecutor(fs, "db", nil, base.DefaultCompare, sstable.WriterOptions{}, 0)
	nextFileNum := uint64(3)
	result, err := e.Run(c, manifest.NewVersion(), base.SeqNum(1000), func() uint64 {
		n := nextFileNum
		nextFileNum++
		return n
	})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)

	f, err := fs.Open(fs.PathJoin("db", base.MakeFilename(base.FileTypeTable, result.Added[0].Desc.FileNum)))
	require.NoError(t, err)
	r, err := sstable.Open(f, result.Added[0].Desc.FileNum, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	value, _, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("new-a"), value, "the newer sequence number for a duplicated key wins")

	_, _, found, err = r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)

	_, _, found, err = r.Get([]byte("c"))
	require.NoError(t, err)
	require.True(t, found)
}

func TestExecutorDropsTombstoneWithNoHigherLevelOverlap(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("db"))

	name := fs.PathJoin("db", base.MakeFilename(base.FileTypeTable, 1))
	f, err := fs.Create(name)
	require.NoError(t, err)
	w := sstable.New(f, 1, sstable.WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindDelete), nil))
	desc, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	input := &manifest.TableMetadata{FileNum: 1, Size: desc.Size, Smallest: desc.Smallest, Largest: desc.Largest}
	c := &Compaction{InputLevel: 0, OutputLevel: 1, Inputs: []*manifest.TableMetadata{input}}

	e := NewExecutor(fs, "db", nil, base.DefaultCompare, sstable.WriterOptions{}, 0)
	result, err := e.Run(c, manifest.NewVersion(), base.SeqNum(1000), func() uint64 { return 2 })
	require.NoError(t, err)
	require.Empty(t, result.Added, "a tombstone with nothing beneath it produces no output")
}

func TestExecutorKeepsKeyProtectedByOpenSnapshot(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("db"))

	name := fs.PathJoin("db", base.MakeFilename(base.FileTypeTable, 1))
	f, err := fs.Create(name)
	require.NoError(t, err)
	w := sstable.New(f, 1, sstable.WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 5, base.InternalKeyKindSet), []byte("newer")))
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindSet), []byte("older")))
	desc, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	input := &manifest.TableMetadata{FileNum: 1, Size: desc.Size, Smallest: desc.Smallest, Largest: desc.Largest}
	c := &Compaction{InputLevel: 0, OutputLevel: 1, Inputs: []*manifest.TableMetadata{input}}

	e := NewExecutor(fs, "db", nil, base.DefaultCompare, sstable.WriterOptions{}, 0)
	// oldestLiveSeq of 2 means a snapshot as of seq 2 is still open, so the
	// older duplicate must survive the compaction.
	result, err := e.Run(c, manifest.NewVersion(), base.SeqNum(2), func() uint64 { return 2 })
	require.NoError(t, err)
	require.Len(t, result.Added, 1)

	outFile, err := fs.Open(fs.PathJoin("db", base.MakeFilename(base.FileTypeTable, result.Added[0].Desc.FileNum)))
	require.NoError(t, err)
	r, err := sstable.Open(outFile, result.Added[0].Desc.FileNum, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIter()
	it.First()
	count := 0
	for it.Valid() {
		count++
		it.Next()
	}
	require.Equal(t, 2, count)
}
