package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/arenaskl"
	"github.com/kvlite/kvlite/internal/base"
)

func TestInsertAndGet(t *testing.T) {
	mt := New(64<<10, 1)
	require.NoError(t, mt.Insert(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1")))
	require.NoError(t, mt.Insert(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindSet), []byte("2")))

	v, res := mt.Get([]byte("a"))
	require.Equal(t, LookupFound, res)
	require.Equal(t, []byte("2"), v, "the highest sequence number for a key wins")
}

func TestGetReportsDeleted(t *testing.T) {
	mt := New(64<<10, 1)
	require.NoError(t, mt.Insert(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1")))
	require.NoError(t, mt.Insert(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindDelete), nil))

	_, res := mt.Get([]byte("a"))
	require.Equal(t, LookupDeleted, res)
}

func TestGetReportsNotFound(t *testing.T) {
	mt := New(64<<10, 1)
	_, res := mt.Get([]byte("missing"))
	require.Equal(t, LookupNotFound, res)
}

func TestIteratorRespectsBounds(t *testing.T) {
	mt := New(64<<10, 1)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, mt.Insert(base.MakeInternalKey(key, base.SeqNum(i+1), base.InternalKeyKindSet), key))
	}

	it := mt.NewIter([]byte("k2"), []byte("k5"))
	var seen []string
	for it.Valid() {
		seen = append(seen, string(it.Key().UserKey))
		it.Next()
	}
	require.Equal(t, []string{"k2", "k3", "k4"}, seen)
}

func TestFullReportsArenaExhaustion(t *testing.T) {
	mt := New(32, 1)
	var lastErr error
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if err := mt.Insert(base.MakeInternalKey(key, base.SeqNum(i+1), base.InternalKeyKindSet), key); err != nil {
			lastErr = err
			break
		}
	}
	require.ErrorIs(t, lastErr, arenaskl.ErrArenaFull)
	require.True(t, mt.Full())
}

func TestLogNum(t *testing.T) {
	mt := New(1<<10, 42)
	require.Equal(t, uint64(42), mt.LogNum())
}
