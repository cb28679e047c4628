package ttlmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T) *Map {
	t.Helper()
	m, err := New(Config{KeySize: 4, ValueSize: 4, IndexSize: 8, ExtraBucketCount: 32, WorkerCount: 2, Seed: 1})
	require.NoError(t, err)
	return m
}

func key(i int) []byte { return []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)} }

func TestPutGetRoundTrip(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 100, 10, key(1), key(100)))

	v, lock, ok := m.Get(105, key(1))
	require.True(t, ok)
	require.Equal(t, key(100), v)
	lock.Unlock()
}

// bucketOf must never produce a zero signature: 0 is the probe
// terminator, so a key that hashes to it would be invisible to Get and
// silently overwritten by the next Put to that bucket.
func TestBucketOfNeverReturnsZeroSignature(t *testing.T) {
	m := newTestMap(t)
	for i := 0; i < 5000; i++ {
		_, h2 := m.bucketOf(key(i))
		require.NotEqual(t, byte(emptySig), h2, "key(%d) hashed to the reserved empty signature", i)
	}
}

func TestGetMissingKeyFails(t *testing.T) {
	m := newTestMap(t)
	_, _, ok := m.Get(0, key(1))
	require.False(t, ok)
}

func TestExpiredEntryIsInvisible(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 100, 10, key(1), key(100)))
	_, _, ok := m.Get(111, key(1))
	require.False(t, ok)
}

func TestPutRefreshesDeadlineOnOverwrite(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 0, 10, key(1), key(100)))
	require.NoError(t, m.Put(0, 5, 10, key(1), key(200)))

	v, lock, ok := m.Get(12, key(1))
	require.True(t, ok)
	require.Equal(t, key(200), v)
	lock.Unlock()
}

func TestExpiredSlotIsReclaimedByPut(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 0, 1, key(1), key(100)))
	require.NoError(t, m.Put(0, 50, 10, key(2), key(200)))

	v1, lock1, ok := m.Get(55, key(1))
	require.False(t, ok)
	require.Nil(t, lock1)
	_ = v1

	v2, lock2, ok := m.Get(55, key(2))
	require.True(t, ok)
	require.Equal(t, key(200), v2)
	lock2.Unlock()
}

func TestManyKeysChainThroughExtraPool(t *testing.T) {
	m, err := New(Config{KeySize: 4, ValueSize: 4, IndexSize: 8, ExtraBucketCount: 128, WorkerCount: 2, Seed: 1})
	require.NoError(t, err)
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, m.Put(0, 0, 1000, key(i), key(i*2)))
	}
	for i := 0; i < n; i++ {
		v, lock, ok := m.Get(1, key(i))
		require.True(t, ok)
		require.Equal(t, key(i*2), v)
		lock.Unlock()
	}
}

func TestExtraPoolExhaustionReturnsError(t *testing.T) {
	// Sixteen one-slot buckets (the minimum index size) and a one-slot
	// overflow pool: once the pool is used, the next distinct live key
	// landing on an occupied bucket must fail to insert.
	m, err := New(Config{KeySize: 4, ValueSize: 4, IndexSize: 16, ExtraBucketCount: 1, WorkerCount: 1, Seed: 1})
	require.NoError(t, err)

	var lastErr error
	ok := 0
	for i := 0; i < 300 && lastErr == nil; i++ {
		if err := m.Put(0, 0, 1000, key(i), key(i)); err != nil {
			lastErr = err
		} else {
			ok++
		}
	}
	require.Error(t, lastErr, "a fixed-size overflow pool must eventually reject an insert under heavy collision")
	require.Greater(t, ok, 0)
}

func TestClearResetsMap(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 0, 1000, key(1), key(100)))
	m.Clear()
	_, _, ok := m.Get(1, key(1))
	require.False(t, ok)
	require.NoError(t, m.Put(0, 0, 1000, key(1), key(100)))
	v, lock, ok := m.Get(1, key(1))
	require.True(t, ok)
	require.Equal(t, key(100), v)
	lock.Unlock()
}

func TestRejectsWrongSizeKeyOrValue(t *testing.T) {
	m := newTestMap(t)
	require.Error(t, m.Put(0, 0, 10, []byte{1, 2}, key(1)))
	require.Error(t, m.Put(0, 0, 10, key(1), []byte{1}))
}

func TestWorkerStatsTrackMaxChainAndElements(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Put(0, 0, 1000, key(1), key(1)))
	require.NoError(t, m.Put(0, 0, 1000, key(2), key(2)))
	stats := m.Stats(0)
	require.GreaterOrEqual(t, stats.TotalElements, int64(2))
	require.GreaterOrEqual(t, stats.MaxChain, 1)
}

func TestIndexSizeRoundsUpToPowerOfTwoWithFloor(t *testing.T) {
	m, err := New(Config{KeySize: 4, ValueSize: 4, IndexSize: 3, ExtraBucketCount: 4, WorkerCount: 1})
	require.NoError(t, err)
	require.Equal(t, minIndexSize, m.cfg.IndexSize)

	m2, err := New(Config{KeySize: 4, ValueSize: 4, IndexSize: 100, ExtraBucketCount: 4, WorkerCount: 1})
	require.NoError(t, err)
	require.Equal(t, 128, m2.cfg.IndexSize)
}
