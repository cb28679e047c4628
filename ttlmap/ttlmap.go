// Package ttlmap implements the TTL-indexed session map: a hashed
// index of buckets chained through a fixed overflow pool, where each
// slot carries a deadline instead of ever being explicitly deleted
// (spec §4.11).
package ttlmap

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/sakateka/fpcore/hashfn"
	"github.com/sakateka/fpcore/syncutil"
)

const minIndexSize = 16

func roundUpPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Config parametrizes a Map.
type Config struct {
	KeySize          int
	ValueSize        int
	IndexSize        int
	ExtraBucketCount int
	WorkerCount      int
	Seed             uint64
	HashID           hashfn.ID
}

const noNext = int32(-1)
const emptySig = 0

type slot struct {
	sig      byte
	deadline uint64
	keyIdx   int32
	next     int32
}

func freshSlot() slot { return slot{sig: emptySig, keyIdx: -1, next: noNext} }

// workerState is the per-worker accounting block, cache-line padded so
// that independent workers never false-share a line (spec §4.11). There
// is no delete operation on a Map, so a keyIdx is never returned to a
// worker once handed out; acquireKeyIdx draws solely from the shared
// monotonic cursor.
type workerState struct {
	_             cpu.CacheLinePad
	maxChain      int
	totalElements int64
	maxDeadline   uint64
	_             cpu.CacheLinePad
}

// Map is a TTL-indexed hash map.
type Map struct {
	cfg     Config
	hash    hashfn.HashFunc
	mask    uint64
	primary []slot
	extra   []slot
	extraFree []int32

	nextKeyIdx atomic.Int32
	keys       [][]byte
	values     [][]byte

	locks   []syncutil.RWLock
	workers []workerState
}

// New creates an empty map per cfg. IndexSize is rounded up to a power
// of two no smaller than 16.
func New(cfg Config) (*Map, error) {
	if cfg.KeySize <= 0 || cfg.ValueSize <= 0 {
		return nil, fmt.Errorf("ttlmap: key/value size must be positive")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("ttlmap: worker count must be positive")
	}
	hf, err := hashfn.Hash(cfg.HashID)
	if err != nil {
		return nil, err
	}
	cfg.IndexSize = roundUpPow2(cfg.IndexSize)
	if cfg.IndexSize < minIndexSize {
		cfg.IndexSize = minIndexSize
	}
	m := &Map{
		cfg:     cfg,
		hash:    hf,
		mask:    uint64(cfg.IndexSize - 1),
		locks:   make([]syncutil.RWLock, cfg.IndexSize),
		workers: make([]workerState, cfg.WorkerCount),
	}
	m.reset()
	return m, nil
}

func (m *Map) reset() {
	m.primary = make([]slot, m.cfg.IndexSize)
	for i := range m.primary {
		m.primary[i] = freshSlot()
	}
	m.extra = make([]slot, m.cfg.ExtraBucketCount)
	m.extraFree = make([]int32, m.cfg.ExtraBucketCount)
	for i := range m.extra {
		m.extra[i] = freshSlot()
		m.extraFree[i] = int32(m.cfg.ExtraBucketCount - 1 - i)
	}
	// The key/value stores are sized to the total slot capacity up
	// front and never grow afterward: a slot index is only ever handed
	// out via the atomic nextKeyIdx cursor, so concurrent Put calls on
	// different buckets (each holding only that bucket's lock) never
	// need to resize a store shared across buckets.
	total := m.cfg.IndexSize + m.cfg.ExtraBucketCount
	m.keys = make([][]byte, total)
	m.values = make([][]byte, total)
	for i := 0; i < total; i++ {
		m.keys[i] = make([]byte, m.cfg.KeySize)
		m.values[i] = make([]byte, m.cfg.ValueSize)
	}
	m.nextKeyIdx.Store(0)
	for i := range m.workers {
		m.workers[i] = workerState{}
	}
}

// Clear resets the map to empty, as if newly constructed.
func (m *Map) Clear() {
	for i := range m.locks {
		m.locks[i].Lock()
	}
	defer func() {
		for i := range m.locks {
			m.locks[i].Unlock()
		}
	}()
	m.reset()
}

func (m *Map) bucketOf(key []byte) (bucket int, h2 byte) {
	h := m.hash(key, m.cfg.Seed)
	h2 = byte(h & 0x7F)
	if h2 == emptySig {
		// 0 terminates the probe (spec §4.11); fold a zero signature to
		// 1 so a live slot is never mistaken for an unused one.
		h2 = 1
	}
	return int((h >> 7) & m.mask), h2
}

// Lock is an opaque handle identifying the bucket lock a Get call took;
// callers must release it via Unlock once done with the returned value.
type Lock struct {
	m      *Map
	bucket int
	held   bool
}

// Unlock releases the bucket read lock acquired by Get.
func (l *Lock) Unlock() {
	if l.held {
		l.m.locks[l.bucket].RUnlock()
		l.held = false
	}
}

// Get looks up key, returning a copy of its value if live (deadline >
// now). On a hit, the caller must call Unlock on the returned Lock.
func (m *Map) Get(now uint64, key []byte) ([]byte, *Lock, bool) {
	bucket, h2 := m.bucketOf(key)
	m.locks[bucket].RLock()
	lock := &Lock{m: m, bucket: bucket, held: true}

	cur := &m.primary[bucket]
	for {
		if cur.sig == emptySig {
			lock.Unlock()
			return nil, nil, false
		}
		if cur.sig == h2 && cur.deadline > now && bytes.Equal(m.keys[cur.keyIdx], key) {
			return append([]byte(nil), m.values[cur.keyIdx]...), lock, true
		}
		if cur.next == noNext {
			lock.Unlock()
			return nil, nil, false
		}
		cur = &m.extra[cur.next]
	}
}

// Put inserts or refreshes key with value and a deadline of now+ttl,
// drawing a fresh slot's key index from the shared monotonic cursor.
// Returns an error if the extra-bucket pool is exhausted and no vacant
// slot could be found.
func (m *Map) Put(worker int, now, ttl uint64, key, value []byte) error {
	if len(key) != m.cfg.KeySize || len(value) != m.cfg.ValueSize {
		return fmt.Errorf("ttlmap: key/value size mismatch")
	}
	bucket, h2 := m.bucketOf(key)
	m.locks[bucket].Lock()
	defer m.locks[bucket].Unlock()

	var vacant *slot
	chainLen := 0
	cur := &m.primary[bucket]
	for {
		chainLen++
		if cur.sig == h2 && cur.deadline > now && bytes.Equal(m.keys[cur.keyIdx], key) {
			copy(m.values[cur.keyIdx], value)
			cur.deadline = now + ttl
			if w := &m.workers[worker]; cur.deadline > w.maxDeadline {
				w.maxDeadline = cur.deadline
			}
			return nil
		}
		if vacant == nil && (cur.sig == emptySig || cur.deadline <= now) {
			vacant = cur
		}
		if cur.next == noNext {
			break
		}
		cur = &m.extra[cur.next]
	}

	if vacant == nil {
		if len(m.extraFree) == 0 {
			return fmt.Errorf("ttlmap: extra-bucket pool exhausted")
		}
		idx := m.extraFree[len(m.extraFree)-1]
		m.extraFree = m.extraFree[:len(m.extraFree)-1]
		m.extra[idx] = freshSlot()
		cur.next = idx
		vacant = &m.extra[idx]
		chainLen++
	}

	if vacant.sig == emptySig {
		vacant.keyIdx = m.acquireKeyIdx()
	}
	copy(m.keys[vacant.keyIdx], key)
	copy(m.values[vacant.keyIdx], value)
	vacant.sig = h2
	vacant.deadline = now + ttl

	w := &m.workers[worker]
	if chainLen > w.maxChain {
		w.maxChain = chainLen
	}
	w.totalElements++
	if vacant.deadline > w.maxDeadline {
		w.maxDeadline = vacant.deadline
	}
	return nil
}

func (m *Map) acquireKeyIdx() int32 {
	return m.nextKeyIdx.Add(1) - 1
}

// WorkerStats reports a worker's running accounting counters.
type WorkerStats struct {
	MaxChain      int
	TotalElements int64
	MaxDeadline   uint64
}

// Stats returns worker's accounting counters.
func (m *Map) Stats(worker int) WorkerStats {
	w := &m.workers[worker]
	return WorkerStats{MaxChain: w.maxChain, TotalElements: w.totalElements, MaxDeadline: w.maxDeadline}
}

// MaxDeadline returns the greatest deadline of any entry ever inserted
// across all workers, used by a layer map to decide when this map's
// entries have all aged out and it can be recycled.
func (m *Map) MaxDeadline() uint64 {
	var max uint64
	for i := range m.workers {
		if d := m.workers[i].maxDeadline; d > max {
			max = d
		}
	}
	return max
}
