package lpm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ip4(a, b, c, d byte) []byte { return []byte{a, b, c, d} }

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New(6)
	require.Error(t, err)
}

// E2: insert a /24, confirm bounds and the out-of-range miss, then
// confirm Compact leaves lookups unchanged.
func TestInsertLookupSlash24(t *testing.T) {
	tr, err := New(4)
	require.NoError(t, err)

	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 0, 255), 7)

	v, ok := tr.Lookup(ip4(10, 0, 0, 0))
	require.True(t, ok)
	require.Equal(t, uint32(7), v)

	v, ok = tr.Lookup(ip4(10, 0, 0, 255))
	require.True(t, ok)
	require.Equal(t, uint32(7), v)

	_, ok = tr.Lookup(ip4(10, 0, 1, 0))
	require.False(t, ok)

	tr.Compact()

	v, ok = tr.Lookup(ip4(10, 0, 0, 128))
	require.True(t, ok)
	require.Equal(t, uint32(7), v)
	_, ok = tr.Lookup(ip4(10, 0, 1, 0))
	require.False(t, ok)
}

func TestInsertSingleKeyRange(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(1, 2, 3, 4), ip4(1, 2, 3, 4), 42)
	v, ok := tr.Lookup(ip4(1, 2, 3, 4))
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
	_, ok = tr.Lookup(ip4(1, 2, 3, 5))
	require.False(t, ok)
}

// A broader range inserted after a narrower one must not clobber the
// narrower value when that value lives in a deeper page than the slots
// the broader range fully covers: those slots are child pages, and only
// their holes are filled.
func TestNarrowerInsertTakesPrecedenceOverBroader(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 1, 0, 0), ip4(10, 1, 0, 0), 99) // /32 first
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 255, 255, 255), 1)

	v, ok := tr.Lookup(ip4(10, 1, 0, 0))
	require.True(t, ok)
	require.Equal(t, uint32(99), v, "the earlier, narrower insert must survive")

	v, ok = tr.Lookup(ip4(10, 1, 0, 1))
	require.True(t, ok)
	require.Equal(t, uint32(1), v)
}

// Overwrite-at-a-flagged-slot, leaf case: the /24 is stored as 256
// flagged leaf entries, so the /32 inside it overwrites its one leaf
// entry in place (there is no deeper page to push the old value into)
// and the narrower insert wins only within its own bounds.
func TestOverlappingInsertPropagatesAndRecurses(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 0, 255), 1) // /24 first
	tr.Insert(ip4(10, 0, 0, 64), ip4(10, 0, 0, 64), 2) // /32 inside it

	v, ok := tr.Lookup(ip4(10, 0, 0, 64))
	require.True(t, ok)
	require.Equal(t, uint32(2), v)

	v, ok = tr.Lookup(ip4(10, 0, 0, 0))
	require.True(t, ok)
	require.Equal(t, uint32(1), v, "bytes outside the narrower insert keep the propagated value")

	v, ok = tr.Lookup(ip4(10, 0, 0, 255))
	require.True(t, ok)
	require.Equal(t, uint32(1), v)
}

// Same as above, but the overlap sits on a non-leaf flagged entry (a
// whole /24 collapsed directly into a depth-2 page slot rather than
// fanned out into leaf entries), exercising the deeper push-down path.
func TestOverlappingInsertOnNonLeafFlaggedSlotPropagates(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 255, 255), 1) // /16, spans whole third octet
	tr.Insert(ip4(10, 0, 5, 77), ip4(10, 0, 5, 77), 2)   // single host inside it

	v, ok := tr.Lookup(ip4(10, 0, 5, 77))
	require.True(t, ok)
	require.Equal(t, uint32(2), v)

	v, ok = tr.Lookup(ip4(10, 0, 5, 0))
	require.True(t, ok)
	require.Equal(t, uint32(1), v, "the rest of the /24 keeps the propagated /16 value")

	v, ok = tr.Lookup(ip4(10, 0, 6, 0))
	require.True(t, ok)
	require.Equal(t, uint32(1), v, "neighbouring octets untouched by the narrower insert")
}

func TestReinsertingSameLeafOverwrites(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(1, 1, 1, 1), ip4(1, 1, 1, 1), 1)
	tr.Insert(ip4(1, 1, 1, 1), ip4(1, 1, 1, 1), 2)
	v, ok := tr.Lookup(ip4(1, 1, 1, 1))
	require.True(t, ok)
	require.Equal(t, uint32(2), v)
}

func TestWalkMergesAdjacentRuns(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 0, 255), 1)
	tr.Insert(ip4(10, 0, 1, 0), ip4(10, 0, 1, 255), 1) // same value, adjacent
	tr.Insert(ip4(10, 0, 2, 0), ip4(10, 0, 2, 255), 2) // different value

	type run struct {
		from, to []byte
		value    uint32
	}
	var runs []run
	tr.Walk(ip4(10, 0, 0, 0), ip4(10, 0, 2, 255), func(from, to []byte, value uint32) {
		runs = append(runs, run{append([]byte(nil), from...), append([]byte(nil), to...), value})
	})

	require.Len(t, runs, 2)
	require.Equal(t, ip4(10, 0, 0, 0), runs[0].from)
	require.Equal(t, ip4(10, 0, 1, 255), runs[0].to)
	require.Equal(t, uint32(1), runs[0].value)
	require.Equal(t, ip4(10, 0, 2, 0), runs[1].from)
	require.Equal(t, ip4(10, 0, 2, 255), runs[1].to)
	require.Equal(t, uint32(2), runs[1].value)
}

func TestWalkSkipsHoles(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(0, 0, 0, 0), ip4(0, 0, 0, 0), 1)
	tr.Insert(ip4(0, 0, 0, 2), ip4(0, 0, 0, 2), 2)

	var count int
	tr.Walk(ip4(0, 0, 0, 0), ip4(0, 0, 0, 2), func(from, to []byte, value uint32) {
		count++
	})
	require.Equal(t, 2, count)
}

func TestCollectValuesDedupes(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 0, 127), 5)
	tr.Insert(ip4(10, 0, 0, 128), ip4(10, 0, 0, 255), 5)
	tr.Insert(ip4(10, 0, 1, 0), ip4(10, 0, 1, 255), 6)

	var got []uint32
	tr.CollectValues(ip4(10, 0, 0, 0), ip4(10, 0, 1, 255), func(v uint32) {
		got = append(got, v)
	})
	require.Equal(t, []uint32{5, 6}, got)
}

func TestRemapRewritesFlaggedValues(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(1, 1, 1, 1), ip4(1, 1, 1, 1), 5)
	tr.Insert(ip4(2, 2, 2, 2), ip4(2, 2, 2, 2), 9)

	tr.Remap(func(v uint32) uint32 { return v * 10 })

	v, _ := tr.Lookup(ip4(1, 1, 1, 1))
	require.Equal(t, uint32(50), v)
	v, _ = tr.Lookup(ip4(2, 2, 2, 2))
	require.Equal(t, uint32(90), v)
}

func TestCompactCollapsesUniformPage(t *testing.T) {
	tr, _ := New(4)
	tr.Insert(ip4(10, 0, 0, 0), ip4(10, 0, 0, 255), 7)
	before := tr.PageCount()

	tr.Compact()

	for i := 0; i <= 255; i++ {
		v, ok := tr.Lookup(ip4(10, 0, 0, byte(i)))
		require.True(t, ok)
		require.Equal(t, uint32(7), v)
	}
	require.LessOrEqual(t, tr.PageCount(), before)
}

func TestEightByteKeys(t *testing.T) {
	tr, err := New(8)
	require.NoError(t, err)
	from := []byte{0, 0, 0, 1, 0, 0, 0, 0}
	to := []byte{0, 0, 0, 1, 255, 255, 255, 255}
	tr.Insert(from, to, 11)

	v, ok := tr.Lookup([]byte{0, 0, 0, 1, 5, 6, 7, 8})
	require.True(t, ok)
	require.Equal(t, uint32(11), v)

	_, ok = tr.Lookup([]byte{0, 0, 0, 2, 0, 0, 0, 0})
	require.False(t, ok)
}
