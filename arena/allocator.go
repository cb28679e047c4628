package arena

import (
	"fmt"
	"sync"

	"github.com/sakateka/fpcore/relptr"
)

// B is the log2 of the smallest block size (8 bytes); E is the number
// of pools, so the largest block size is 2^(B+E-1).
const (
	B = 3
	E = 24
)

// MaxBlockSize is the largest single allocation the allocator can ever
// satisfy.
const MaxBlockSize = int64(1) << (B + E - 1)

// Allocator is a buddy-style power-of-two pool allocator over a single
// Arena. It never grows the arena itself; PutArena feeds it more raw
// memory to carve into pools.
type Allocator struct {
	mu    sync.Mutex
	arena *Arena
	pools [E]relptr.Ptr
}

// NewAllocator creates an allocator with all pools empty. Call PutArena
// to seed it with free memory before any Alloc.
func NewAllocator(a *Arena) *Allocator {
	al := &Allocator{arena: a}
	for i := range al.pools {
		al.pools[i] = relptr.Store(relptr.Null)
	}
	return al
}

// Arena returns the backing arena.
func (al *Allocator) Arena() *Arena { return al.arena }

func poolOf(size int64) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: size must be positive", ErrInvalidArgument)
	}
	if size > MaxBlockSize {
		return 0, fmt.Errorf("%w: size %d exceeds max block size %d", ErrInvalidArgument, size, MaxBlockSize)
	}
	blockSize := int64(1) << B
	e := 0
	for blockSize < size {
		blockSize <<= 1
		e++
	}
	return e, nil
}

func blockSizeOf(e int) int64 {
	return int64(1) << (B + e)
}

// PutArena inserts a maximal run of maximally aligned, maximally sized
// power-of-two blocks covering [offset, offset+length) into the
// matching pools. Any leftover bytes that cannot form another
// minimum-size block are simply not inserted (they are permanently
// unusable slack, as in any buddy allocator fed an odd-sized region).
func (al *Allocator) PutArena(offset, length int64) {
	al.mu.Lock()
	defer al.mu.Unlock()

	start := alignUp(offset, 1<<B)
	end := alignDown(offset+length, 1<<B)
	for start < end {
		remaining := end - start
		e := E - 1
		for e > 0 && (blockSizeOf(e) > remaining || start%blockSizeOf(e) != 0) {
			e--
		}
		size := blockSizeOf(e)
		al.pushFree(e, start)
		start += size
	}
}

// pushFree prepends the block at offset to pool e's free list. Caller
// holds al.mu.
func (al *Allocator) pushFree(e int, offset int64) {
	next := al.pools[e]
	buf := al.arena.At(offset, 8)
	putU64(buf, uint64(int64(next)))
	al.pools[e] = relptr.Store(offset)
}

// popFree removes and returns the head offset of pool e's free list, or
// (0, false) if empty. Caller holds al.mu.
func (al *Allocator) popFree(e int) (int64, bool) {
	head := al.pools[e]
	off, ok := head.Deref()
	if !ok {
		return 0, false
	}
	buf := al.arena.At(off, 8)
	next := int64(getU64(buf))
	al.pools[e] = relptr.Store(next)
	return off, true
}

// Alloc returns an arena-relative offset of a free block of at least
// size bytes, or ErrOutOfMemory if no parent pool has room.
func (al *Allocator) Alloc(size int64) (int64, error) {
	e, err := poolOf(size)
	if err != nil {
		return 0, err
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if off, ok := al.popFree(e); ok {
		return off, nil
	}

	// Find the nearest larger non-empty pool and split it down.
	donor := e + 1
	for donor < E {
		if _, ok := al.pools[donor].Deref(); ok {
			break
		}
		donor++
	}
	if donor >= E {
		return 0, fmt.Errorf("%w: pool %d exhausted", ErrOutOfMemory, e)
	}

	off, _ := al.popFree(donor)
	for donor > e {
		donor--
		buddyOffset := off + blockSizeOf(donor)
		al.pushFree(donor, buddyOffset)
	}
	return off, nil
}

// Free returns a block of the given size to its pool's free list.
func (al *Allocator) Free(offset, size int64) error {
	e, err := poolOf(size)
	if err != nil {
		return err
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	al.pushFree(e, offset)
	return nil
}

// FreeCount returns the number of free blocks currently queued in pool
// e, used by tests to assert round-trip invariants (spec property 3).
func (al *Allocator) FreeCount(e int) int {
	al.mu.Lock()
	defer al.mu.Unlock()
	n := 0
	cur := al.pools[e]
	for {
		off, ok := cur.Deref()
		if !ok {
			break
		}
		n++
		buf := al.arena.At(off, 8)
		cur = relptr.Store(int64(getU64(buf)))
	}
	return n
}
