package arena

import "sync/atomic"

// Context is a named accounting wrapper over a shared Allocator.
// Children created with Child share the parent's allocator so that
// sibling containers never contend beyond the allocator's own locking,
// while still reporting their own alloc/free counters for leak checks
// (spec property 1: balloc_count == bfree_count on well-formed teardown).
type Context struct {
	name        string
	allocator   *Allocator
	ballocCount atomic.Uint64
	bfreeCount  atomic.Uint64
	ballocSize  atomic.Uint64
	bfreeSize   atomic.Uint64
}

// NewContext creates a root memory context over allocator.
func NewContext(name string, allocator *Allocator) *Context {
	return &Context{name: name, allocator: allocator}
}

// Child creates a named child context sharing this context's allocator.
func (c *Context) Child(name string) *Context {
	return NewContext(c.name+"/"+name, c.allocator)
}

// Name returns the context's accounting name.
func (c *Context) Name() string { return c.name }

// Alloc allocates size bytes and updates accounting counters.
func (c *Context) Alloc(size int64) (int64, error) {
	off, err := c.allocator.Alloc(size)
	if err != nil {
		return 0, err
	}
	c.ballocCount.Add(1)
	c.ballocSize.Add(uint64(size))
	return off, nil
}

// Free releases a block previously returned by Alloc and updates
// accounting counters.
func (c *Context) Free(offset, size int64) error {
	if err := c.allocator.Free(offset, size); err != nil {
		return err
	}
	c.bfreeCount.Add(1)
	c.bfreeSize.Add(uint64(size))
	return nil
}

// Realloc allocates a new block of newSize, copies min(oldSize,newSize)
// bytes from the old block, frees the old block, and returns the new
// offset.
func (c *Context) Realloc(oldOffset, oldSize, newSize int64) (int64, error) {
	newOff, err := c.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		copy(c.allocator.Arena().At(newOff, int(n)), c.allocator.Arena().At(oldOffset, int(n)))
	}
	if err := c.Free(oldOffset, oldSize); err != nil {
		return 0, err
	}
	return newOff, nil
}

// Arena exposes the underlying arena for direct byte access.
func (c *Context) Arena() *Arena { return c.allocator.Arena() }

// Allocator exposes the underlying allocator, e.g. so a child context
// can be constructed manually against the same pools.
func (c *Context) Allocator() *Allocator { return c.allocator }

// Stats reports the accounting counters used by leak checks.
type Stats struct {
	Name        string
	BallocCount uint64
	BfreeCount  uint64
	BallocSize  uint64
	BfreeSize   uint64
}

// Stats returns a snapshot of this context's counters.
func (c *Context) Stats() Stats {
	return Stats{
		Name:        c.name,
		BallocCount: c.ballocCount.Load(),
		BfreeCount:  c.bfreeCount.Load(),
		BallocSize:  c.ballocSize.Load(),
		BfreeSize:   c.bfreeSize.Load(),
	}
}

// Balanced reports whether alloc and free counters agree, the leak
// invariant from spec property 1.
func (c *Context) Balanced() bool {
	s := c.Stats()
	return s.BallocCount == s.BfreeCount && s.BallocSize == s.BfreeSize
}
