package hashfn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFNV1aDeterministic(t *testing.T) {
	h, err := Hash(HashFNV1a)
	require.NoError(t, err)
	a := h([]byte("hello"), 42)
	b := h([]byte("hello"), 42)
	require.Equal(t, a, b)
	c := h([]byte("hello"), 43)
	require.NotEqual(t, a, c)
}

func TestMemcmpEqual(t *testing.T) {
	eq, err := Equal(EqualMemcmp)
	require.NoError(t, err)
	require.True(t, eq([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.False(t, eq([]byte{1, 2, 3}, []byte{1, 2, 4}))
	require.False(t, eq([]byte{1, 2}, []byte{1, 2, 3}))
}

func TestUnknownIDs(t *testing.T) {
	_, err := Hash(ID(200))
	require.ErrorIs(t, err, ErrUnknownID)
	_, err = Equal(ID(200))
	require.ErrorIs(t, err, ErrUnknownID)
	_, err = NewRNG(ID(200), 0)
	require.ErrorIs(t, err, ErrUnknownID)
}

func TestLCGReproducible(t *testing.T) {
	a, err := NewRNG(RandLCG, 7)
	require.NoError(t, err)
	b, err := NewRNG(RandLCG, 7)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestSecureRNGProducesVariation(t *testing.T) {
	r, err := NewRNG(RandSecure, 0)
	require.NoError(t, err)
	seen := map[uint64]bool{}
	for i := 0; i < 8; i++ {
		seen[r.Uint64()] = true
	}
	require.Greater(t, len(seen), 1)
}
