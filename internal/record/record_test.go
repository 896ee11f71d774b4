package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/vfs"
)

func TestWriteReadRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	f, err := fs.Create("log")
	require.NoError(t, err)

	w := NewWriter(f, 0)
	records := [][]byte{
		[]byte("short"),
		bytes.Repeat([]byte("x"), BlockSize*2+37), // spans several blocks
		[]byte(""),
		[]byte("trailing"),
	}
	for _, r := range records {
		require.NoError(t, w.WriteRecord(r))
	}

	rf, err := fs.Open("log")
	require.NoError(t, err)
	reader, err := NewReader(rf)
	require.NoError(t, err)

	for _, want := range records {
		got, err := reader.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = reader.Next()
	require.Equal(t, io.EOF, err)
	require.False(t, reader.Corrupted())
}

func TestReaderToleratesTruncatedTail(t *testing.T) {
	fs := vfs.NewMemFS()
	f, err := fs.Create("log")
	require.NoError(t, err)

	w := NewWriter(f, 0)
	require.NoError(t, w.WriteRecord([]byte("complete record")))
	require.NoError(t, w.WriteRecord([]byte("second record, will be cut off")))

	size, err := f.Size()
	require.NoError(t, err)
	require.NoError(t, fs.Truncate("log", size-10))

	rf, err := fs.Open("log")
	require.NoError(t, err)
	reader, err := NewReader(rf)
	require.NoError(t, err)

	got, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("complete record"), got)

	_, err = reader.Next()
	require.Equal(t, io.EOF, err)
	require.True(t, reader.Corrupted())
}
