package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/vfs"
)

func tableMeta(fileNum uint64, smallest, largest string) *TableMetadata {
	return &TableMetadata{
		FileNum:  fileNum,
		Size:     100,
		Smallest: base.MakeInternalKey([]byte(smallest), 1, base.InternalKeyKindSet),
		Largest:  base.MakeInternalKey([]byte(largest), 1, base.InternalKeyKindSet),
	}
}

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := &VersionEdit{
		ComparatorName:    ComparatorName,
		HasLogNumber:      true,
		LogNumber:         7,
		HasNextFileNumber: true,
		NextFileNumber:    8,
		HasLastSequence:   true,
		LastSequence:      42,
		DeletedTables:     []DeletedTable{{Level: 0, FileNum: 3}},
		AddedTables:       []AddedTable{{Level: 1, Meta: tableMeta(9, "a", "z")}},
	}

	decoded, err := DecodeVersionEdit(edit.Encode())
	require.NoError(t, err)
	require.Equal(t, edit.ComparatorName, decoded.ComparatorName)
	require.Equal(t, edit.LogNumber, decoded.LogNumber)
	require.Equal(t, edit.NextFileNumber, decoded.NextFileNumber)
	require.Equal(t, edit.LastSequence, decoded.LastSequence)
	require.Equal(t, edit.DeletedTables, decoded.DeletedTables)
	require.Len(t, decoded.AddedTables, 1)
	require.Equal(t, edit.AddedTables[0].Meta.FileNum, decoded.AddedTables[0].Meta.FileNum)
	require.Equal(t, edit.AddedTables[0].Meta.Smallest.UserKey, decoded.AddedTables[0].Meta.Smallest.UserKey)
}

func TestDecodeVersionEditRejectsUnknownTag(t *testing.T) {
	_, err := DecodeVersionEdit([]byte{99})
	require.Error(t, err)
	require.ErrorIs(t, err, base.ErrCorrupt)
}

func TestVersionApplyAddAndDelete(t *testing.T) {
	v := NewVersion()
	v = v.Apply(&VersionEdit{AddedTables: []AddedTable{
		{Level: 0, Meta: tableMeta(1, "a", "c")},
		{Level: 1, Meta: tableMeta(2, "m", "p")},
	}}, base.DefaultCompare)

	require.Len(t, v.Levels[0], 1)
	require.Len(t, v.Levels[1], 1)

	v2 := v.Apply(&VersionEdit{DeletedTables: []DeletedTable{{Level: 0, FileNum: 1}}}, base.DefaultCompare)
	require.Empty(t, v2.Levels[0])
	require.Len(t, v2.Levels[1], 1, "unrelated level is untouched")
	// The original Version is immutable.
	require.Len(t, v.Levels[0], 1)
}

func TestVersionLevelsAboveZeroStaySortedBySmallest(t *testing.T) {
	v := NewVersion()
	v = v.Apply(&VersionEdit{AddedTables: []AddedTable{
		{Level: 1, Meta: tableMeta(1, "m", "p")},
		{Level: 1, Meta: tableMeta(2, "a", "c")},
		{Level: 1, Meta: tableMeta(3, "x", "z")},
	}}, base.DefaultCompare)

	var got []uint64
	for _, t := range v.Levels[1] {
		got = append(got, t.FileNum)
	}
	require.Equal(t, []uint64{2, 1, 3}, got)
}

func TestVersionRefUnref(t *testing.T) {
	v := NewVersion()
	v.Ref()
	require.False(t, v.Unref())
	require.True(t, v.Unref())
}

func TestManifestBootstrapAndReopen(t *testing.T) {
	fs := vfs.NewMemFS()
	m, state, err := Open(fs, "db", base.DefaultCompare)
	require.NoError(t, err)
	require.Equal(t, uint64(2), state.NextFileNumber)
	require.Equal(t, base.SeqNumZero, state.LastSequence)

	edit := &VersionEdit{
		HasLogNumber:    true,
		LogNumber:       1,
		HasLastSequence: true,
		LastSequence:    5,
		AddedTables:     []AddedTable{{Level: 0, Meta: tableMeta(2, "a", "b")}},
	}
	newVersion, err := m.LogAndApply(edit, state.Version, base.DefaultCompare, func() uint64 { return 3 })
	require.NoError(t, err)
	require.Len(t, newVersion.Levels[0], 1)
	require.NoError(t, m.Close())

	m2, state2, err := Open(fs, "db", base.DefaultCompare)
	require.NoError(t, err)
	defer m2.Close()
	require.Equal(t, base.SeqNum(5), state2.LastSequence)
	require.Equal(t, uint64(1), state2.LogNumber)
	require.Len(t, state2.Version.Levels[0], 1)
	require.Equal(t, uint64(2), state2.Version.Levels[0][0].FileNum)
}
