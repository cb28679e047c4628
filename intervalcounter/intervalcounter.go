// Package intervalcounter implements a ring-buffer sliding-window
// counter: each cell carries a (value, generation) pair so that stale
// cells from a previous wrap are detected and lazily zeroed on read
// rather than needing an explicit clear pass (spec §4.13).
package intervalcounter

import "fmt"

type cell struct {
	value int64
	gen   uint64
}

// Counter is a ring of 2*maxTimeout (rounded up to a power of two)
// cells tracking a running sum of active (from, timeout, delta) puts.
type Counter struct {
	cells      []cell
	size       uint64
	mask       uint64
	maxTimeout uint64
	now        uint64
}

func roundUpPow2(n uint64) uint64 {
	if n < 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// New creates a Counter sized for a sliding window of at most
// maxTimeout, starting at time 0.
func New(maxTimeout uint64) (*Counter, error) {
	if maxTimeout == 0 {
		return nil, fmt.Errorf("intervalcounter: max timeout must be positive")
	}
	size := roundUpPow2(2 * maxTimeout)
	return &Counter{
		cells:      make([]cell, size),
		size:       size,
		mask:       size - 1,
		maxTimeout: maxTimeout,
	}, nil
}

// get returns a pointer to the ring cell for time t, zeroing its value
// first if the cell belongs to a stale generation (an earlier wrap
// around the ring).
func (c *Counter) get(t uint64) *cell {
	idx := t & c.mask
	gen := t / c.size
	cl := &c.cells[idx]
	if cl.gen != gen {
		cl.value = 0
		cl.gen = gen
	}
	return cl
}

// Now reports the counter's current time cursor.
func (c *Counter) Now() uint64 { return c.now }

// AdvanceTime carries the running sum forward one cell at a time until
// now reaches to. to must not precede the current time.
func (c *Counter) AdvanceTime(to uint64) error {
	if to < c.now {
		return fmt.Errorf("intervalcounter: advance_time is monotonic, got to=%d < now=%d", to, c.now)
	}
	for c.now < to {
		cur := c.get(c.now)
		next := c.get(c.now + 1)
		next.value += cur.value
		c.now++
	}
	return nil
}

// Put schedules delta to take effect at from and to be withdrawn again
// at from+timeout. from must not precede the current time, and timeout
// must not exceed the window the ring was sized for, or the withdrawal
// would land on a cell that has already wrapped back around and been
// reused for an unrelated time.
func (c *Counter) Put(from, timeout uint64, delta int64) error {
	if from < c.now {
		return fmt.Errorf("intervalcounter: put at from=%d precedes now=%d", from, c.now)
	}
	if timeout == 0 || timeout > c.maxTimeout {
		// timeout == c.size (let alone > c.size) would make the deposit
		// and withdrawal alias the same ring cell one generation apart;
		// the withdrawal's stale-gen zeroing would wipe the deposit it
		// was meant to cancel instead of subtracting from it.
		return fmt.Errorf("intervalcounter: timeout %d out of window [1,%d]", timeout, c.maxTimeout)
	}
	c.get(from).value += delta
	c.get(from + timeout).value -= delta
	return nil
}

// CurrentCount returns the sum of every still-active put at the
// current time.
func (c *Counter) CurrentCount() int64 {
	return c.get(c.now).value
}
