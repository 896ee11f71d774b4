package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/vfs"
)

func TestAppendAndReplay(t *testing.T) {
	fs := vfs.NewMemFS()
	w, err := Create(fs, "", 1)
	require.NoError(t, err)

	keys := []string{"a", "b", "c"}
	for i, k := range keys {
		ik := base.MakeInternalKey([]byte(k), base.SeqNum(i+1), base.InternalKeyKindSet)
		require.NoError(t, w.Append(ik, []byte("v-"+k), false))
	}
	require.NoError(t, w.Close())

	var got []string
	corrupted, err := Replay(fs, "", 1, func(key base.InternalKey, value []byte) error {
		got = append(got, string(key.UserKey))
		return nil
	})
	require.NoError(t, err)
	require.False(t, corrupted)
	require.Equal(t, keys, got)
}

func TestReplayStopsAtTruncatedTail(t *testing.T) {
	fs := vfs.NewMemFS()
	w, err := Create(fs, "", 2)
	require.NoError(t, err)

	ik1 := base.MakeInternalKey([]byte("whole"), 1, base.InternalKeyKindSet)
	require.NoError(t, w.Append(ik1, []byte("v1"), false))
	size, err := w.f.Size()
	require.NoError(t, err)

	ik2 := base.MakeInternalKey([]byte("cutoff"), 2, base.InternalKeyKindSet)
	require.NoError(t, w.Append(ik2, []byte("v2"), false))
	require.NoError(t, w.Close())

	require.NoError(t, fs.Truncate(fs.PathJoin("", base.MakeFilename(base.FileTypeWAL, 2)), size+10))

	var got []string
	corrupted, err := Replay(fs, "", 2, func(key base.InternalKey, value []byte) error {
		got = append(got, string(key.UserKey))
		return nil
	})
	require.NoError(t, err)
	require.True(t, corrupted)
	require.Equal(t, []string{"whole"}, got)
}

func TestDeleteRemovesFile(t *testing.T) {
	fs := vfs.NewMemFS()
	w, err := Create(fs, "", 3)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, Delete(fs, "", 3))

	_, err = fs.Open(fs.PathJoin("", base.MakeFilename(base.FileTypeWAL, 3)))
	require.Error(t, err)
}
