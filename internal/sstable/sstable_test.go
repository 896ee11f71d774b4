package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/vfs"
)

func buildTable(t *testing.T, fs vfs.FS, name string, n int, opts WriterOptions) *Descriptor {
	f, err := fs.Create(name)
	require.NoError(t, err)

	w := New(f, 1, opts)
	for i := 0; i < n; i++ {
		key := base.MakeInternalKey([]byte(fmt.Sprintf("key-%05d", i)), base.SeqNum(i+1), base.InternalKeyKindSet)
		require.NoError(t, w.Add(key, []byte(fmt.Sprintf("value-%05d", i))))
	}
	desc, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return desc
}

func TestWriteAndGet(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "test.sst", 500, WriterOptions{BlockSize: 256, FilterBitsPerKey: 10})

	f, err := fs.Open("test.sst")
	require.NoError(t, err)
	r, err := Open(f, 1, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	value, kind, found, err := r.Get([]byte("key-00250"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, []byte("value-00250"), value)

	_, _, found, err = r.Get([]byte("key-99999"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestIteratorVisitsAllEntriesInOrder(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "test.sst", 200, WriterOptions{BlockSize: 512})

	f, err := fs.Open("test.sst")
	require.NoError(t, err)
	r, err := Open(f, 1, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIter()
	it.First()
	count := 0
	var prev string
	for it.Valid() {
		k := string(it.Key().UserKey)
		if count > 0 {
			require.Less(t, prev, k)
		}
		prev = k
		count++
		it.Next()
	}
	require.NoError(t, it.Error())
	require.Equal(t, 200, count)
}

func TestIteratorSeekGE(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "test.sst", 300, WriterOptions{BlockSize: 512})

	f, err := fs.Open("test.sst")
	require.NoError(t, err)
	r, err := Open(f, 1, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIter()
	it.SeekGE([]byte("key-00150"))
	require.True(t, it.Valid())
	require.Equal(t, "key-00150", string(it.Key().UserKey))
}

func TestFilterRejectsAbsentKey(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "test.sst", 100, WriterOptions{BlockSize: 4096, FilterBitsPerKey: 10})

	f, err := fs.Open("test.sst")
	require.NoError(t, err)
	r, err := Open(f, 1, nil, base.DefaultCompare)
	require.NoError(t, err)
	defer r.Close()

	_, _, found, err := r.Get([]byte("definitely-not-present"))
	require.NoError(t, err)
	require.False(t, found)
}
