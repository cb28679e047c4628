package main

import (
	"testing"

	"github.com/sakateka/fpcore/arena"
	"github.com/stretchr/testify/require"
)

// newTestArena builds a mapped arena plus a root memory context sized
// for size bytes, cleaned up automatically at the end of the test.
func newTestArena(t *testing.T, size int64) (*arena.Arena, *arena.Context) {
	t.Helper()
	a, err := arena.New(int(size))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	allocator := arena.NewAllocator(a)
	allocator.PutArena(0, a.Len())
	return a, arena.NewContext("test", allocator)
}
