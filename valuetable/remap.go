// Package valuetable implements the dense-integer remapping pipeline
// used to compact the LPM value space: a generation-scoped RemapTable,
// a rectangular Table composing it with a (h,v) grid, and a Registry
// that records the distinct values seen per generation.
package valuetable

import "math"

// Invalid is the sentinel returned for a key with no live mapping.
const Invalid uint32 = math.MaxUint32

type remapItem struct {
	value uint32
	gen   uint32
	valid bool
}

// RemapTable assigns each observed raw key a stable dense "value"
// within the current generation, reference-counting how many keys
// currently resolve to each value slot so slots can be recycled once
// their last referrer moves on (spec §4.6).
type RemapTable struct {
	generation uint32
	items      []remapItem
	refcount   []uint32
	freeList   []uint32
	cursor     uint32
	compacted  []uint32 // valid only after Compact
}

// NewRemapTable creates a table over keys in [0, keyCapacity).
func NewRemapTable(keyCapacity int) *RemapTable {
	return &RemapTable{items: make([]remapItem, keyCapacity)}
}

// NewGen starts a new generation; subsequent Touch calls on keys not
// yet touched this generation allocate a fresh value slot.
func (r *RemapTable) NewGen() {
	r.generation++
}

// Generation returns the current generation counter.
func (r *RemapTable) Generation() uint32 { return r.generation }

func (r *RemapTable) allocSlot() uint32 {
	if n := len(r.freeList); n > 0 {
		slot := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		return slot
	}
	slot := r.cursor
	r.cursor++
	if int(slot) >= len(r.refcount) {
		grown := make([]uint32, slot+1)
		copy(grown, r.refcount)
		r.refcount = grown
	}
	return slot
}

// Touch returns a stable value for key within the current generation,
// allocating one (or reusing the slot from a prior generation's
// mapping) on first touch this generation.
func (r *RemapTable) Touch(key uint32) uint32 {
	it := &r.items[key]
	if it.valid && it.gen == r.generation {
		return it.value
	}

	newSlot := r.allocSlot()
	if it.valid {
		old := it.value
		r.refcount[old]--
		if r.refcount[old] == 0 {
			r.freeList = append(r.freeList, old)
		}
	}
	it.value = newSlot
	it.gen = r.generation
	it.valid = true
	r.refcount[newSlot]++
	return newSlot
}

// Compact walks every item touched so far and assigns a fresh, dense
// 0..k-1 index to every value slot with a positive refcount, in
// ascending slot order; slots with no referrers map to Invalid.
// Queries after Compact must go through Compacted, not Touch.
func (r *RemapTable) Compact() {
	r.compacted = make([]uint32, r.cursor)
	next := uint32(0)
	for slot := uint32(0); slot < r.cursor; slot++ {
		if r.refcount[slot] > 0 {
			r.compacted[slot] = next
			next++
		} else {
			r.compacted[slot] = Invalid
		}
	}
}

// Compacted returns the final dense index for key after Compact has
// run, or Invalid if key was never touched or its value slot has no
// remaining referrers.
func (r *RemapTable) Compacted(key uint32) uint32 {
	it := &r.items[key]
	if !it.valid || int(it.value) >= len(r.compacted) {
		return Invalid
	}
	return r.compacted[it.value]
}
