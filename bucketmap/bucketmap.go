// Package bucketmap implements the parallel-slot-matching hash map
// described in spec §4.10: an index of 2^m buckets, each the head of a
// chain of 8-slot groups, probed with a SWAR control-byte match before
// any key comparison.
package bucketmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/sakateka/fpcore/hashfn"
	"github.com/sakateka/fpcore/syncutil"
)

const blocksPerGroup = 4
const slotsPerBlock = 8

const (
	ctrlEmpty byte = 0x80
	ctrlDeleted byte = 0xFE
)

// block holds slotsPerBlock (key, value) slots plus their control bytes.
// An unallocated block is a nil entry in group.blocks, and a nil entry
// terminates a probe (spec's "first empty block means key cannot exist"
// property) without needing a separate flag. A freshly allocated block
// starts with every control byte set to ctrlEmpty.
type block struct {
	control [slotsPerBlock]byte
	keys    [][]byte
	values  [][]byte
}

func newBlock(keySize, valueSize int) *block {
	b := &block{}
	for i := range b.control {
		b.control[i] = ctrlEmpty
	}
	b.keys = make([][]byte, slotsPerBlock)
	b.values = make([][]byte, slotsPerBlock)
	for i := range b.keys {
		b.keys[i] = make([]byte, keySize)
		b.values[i] = make([]byte, valueSize)
	}
	return b
}

// group is a chain link: one always-present inline block plus up to
// three more allocated on demand, and a pointer continuing the chain.
type group struct {
	blocks [blocksPerGroup]*block
	next   *group
}

// Config parametrizes a Map.
type Config struct {
	KeySize      int
	ValueSize    int
	Seed         uint64
	WorkerCount  int
	LocksEnabled bool
	IndexBits    int // buckets = 1 << IndexBits
}

// Map is a parallel-slot-matching hash map over fixed-size byte keys.
type Map struct {
	cfg    Config
	hash   hashfn.HashFunc
	index  []*group
	locks  []syncutil.RWLock
}

// New creates an empty map per cfg.
func New(cfg Config) (*Map, error) {
	if cfg.KeySize <= 0 || cfg.ValueSize <= 0 {
		return nil, fmt.Errorf("bucketmap: key/value size must be positive")
	}
	if cfg.IndexBits < 0 || cfg.IndexBits > 31 {
		return nil, fmt.Errorf("bucketmap: index bits %d out of range", cfg.IndexBits)
	}
	h, err := hashfn.Hash(hashfn.HashFNV1a)
	if err != nil {
		return nil, err
	}
	m := &Map{
		cfg:   cfg,
		hash:  h,
		index: make([]*group, 1<<cfg.IndexBits),
	}
	if cfg.LocksEnabled {
		m.locks = make([]syncutil.RWLock, 1<<cfg.IndexBits)
	}
	return m, nil
}

func (m *Map) bucketOf(key []byte) (bucket int, h2 byte) {
	h := m.hash(key, m.cfg.Seed)
	h1 := h >> 7
	h2u := h & 0x7F
	mask := uint64(1)<<uint(m.cfg.IndexBits) - 1
	return int(h1 & mask), byte(h2u)
}

// swarMatch returns a word with the top bit of lane i set wherever
// control[i] encodes the occupied hash h2.
func swarMatch(control [slotsPerBlock]byte, h2 byte) uint64 {
	word := binary.LittleEndian.Uint64(control[:])
	bcast := uint64(h2) * 0x0101010101010101
	x := word ^ bcast
	return (x - 0x0101010101010101) & ^x & 0x8080808080808080
}

func forEachMatch(matches uint64, cb func(slot int) (stop bool)) {
	for matches != 0 {
		lane := bits.TrailingZeros64(matches) / 8
		if cb(lane) {
			return
		}
		matches &^= 0x80 << uint(lane*8)
	}
}

func (m *Map) rlock(bucket int) {
	if m.cfg.LocksEnabled {
		m.locks[bucket].RLock()
	}
}
func (m *Map) runlock(bucket int) {
	if m.cfg.LocksEnabled {
		m.locks[bucket].RUnlock()
	}
}
func (m *Map) wlock(bucket int) {
	if m.cfg.LocksEnabled {
		m.locks[bucket].Lock()
	}
}
func (m *Map) wunlock(bucket int) {
	if m.cfg.LocksEnabled {
		m.locks[bucket].Unlock()
	}
}

// Get looks up key and returns a copy of its value.
func (m *Map) Get(key []byte) ([]byte, bool) {
	bucket, h2 := m.bucketOf(key)
	m.rlock(bucket)
	defer m.runlock(bucket)
	return m.find(bucket, h2, key)
}

func (m *Map) find(bucket int, h2 byte, key []byte) ([]byte, bool) {
	for g := m.index[bucket]; g != nil; g = g.next {
		for _, b := range g.blocks {
			if b == nil {
				return nil, false // unallocated block terminates the probe
			}
			found := false
			var value []byte
			forEachMatch(swarMatch(b.control, h2), func(slot int) bool {
				if bytes.Equal(b.keys[slot], key) {
					value = append([]byte(nil), b.values[slot]...)
					found = true
					return true
				}
				return false
			})
			if found {
				return value, true
			}
		}
	}
	return nil, false
}

// Put inserts or overwrites key's value.
func (m *Map) Put(key, value []byte) error {
	if len(key) != m.cfg.KeySize || len(value) != m.cfg.ValueSize {
		return fmt.Errorf("bucketmap: key/value size mismatch")
	}
	bucket, h2 := m.bucketOf(key)
	m.wlock(bucket)
	defer m.wunlock(bucket)

	var firstVacantBlock *block
	firstVacantSlot := -1

	g := m.index[bucket]
	var lastGroup *group
	for g != nil {
		for bi := range g.blocks {
			b := g.blocks[bi]
			if b == nil {
				if firstVacantBlock == nil {
					b = newBlock(m.cfg.KeySize, m.cfg.ValueSize)
					g.blocks[bi] = b
					firstVacantBlock = b
					firstVacantSlot = 0
				}
				break
			}
			overwrote := false
			forEachMatch(swarMatch(b.control, h2), func(slot int) bool {
				if bytes.Equal(b.keys[slot], key) {
					copy(b.values[slot], value)
					overwrote = true
					return true
				}
				return false
			})
			if overwrote {
				return nil
			}
			if firstVacantBlock == nil {
				for slot, c := range b.control {
					if c == ctrlEmpty || c == ctrlDeleted {
						firstVacantBlock = b
						firstVacantSlot = slot
						break
					}
				}
			}
		}
		lastGroup = g
		g = g.next
	}

	if firstVacantBlock == nil {
		newGrp := &group{}
		newGrp.blocks[0] = newBlock(m.cfg.KeySize, m.cfg.ValueSize)
		firstVacantBlock = newGrp.blocks[0]
		firstVacantSlot = 0
		if lastGroup == nil {
			m.index[bucket] = newGrp
		} else {
			lastGroup.next = newGrp
		}
	}

	copy(firstVacantBlock.keys[firstVacantSlot], key)
	copy(firstVacantBlock.values[firstVacantSlot], value)
	firstVacantBlock.control[firstVacantSlot] = h2
	return nil
}

// Delete removes key, if present.
func (m *Map) Delete(key []byte) bool {
	bucket, h2 := m.bucketOf(key)
	m.wlock(bucket)
	defer m.wunlock(bucket)

	for g := m.index[bucket]; g != nil; g = g.next {
		for _, b := range g.blocks {
			if b == nil {
				return false
			}
			deleted := false
			forEachMatch(swarMatch(b.control, h2), func(slot int) bool {
				if bytes.Equal(b.keys[slot], key) {
					if hasEmptySlot(b) {
						b.control[slot] = ctrlEmpty
					} else {
						b.control[slot] = ctrlDeleted
					}
					deleted = true
					return true
				}
				return false
			})
			if deleted {
				return true
			}
		}
	}
	return false
}

func hasEmptySlot(b *block) bool {
	for _, c := range b.control {
		if c == ctrlEmpty {
			return true
		}
	}
	return false
}
