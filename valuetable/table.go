package valuetable

// gridChunkSize bounds how many u32 cells live in one contiguous
// allocation, matching spec §4.6's "chunks of 16384 entries" so a huge
// (h,v) grid never demands one single multi-megabyte allocation.
const gridChunkSize = 16384

// Table is a rectangular (h,v) -> u32 grid composed with a RemapTable,
// used to compact the LPM's value space (spec §4.6).
type Table struct {
	remap  *RemapTable
	hDim   int
	vDim   int
	chunks [][]uint32
}

// NewTable creates a Table of hDim*vDim cells backed by a RemapTable
// sized to the same key space.
func NewTable(hDim, vDim int) *Table {
	total := hDim * vDim
	t := &Table{
		remap: NewRemapTable(total),
		hDim:  hDim,
		vDim:  vDim,
	}
	for off := 0; off < total; off += gridChunkSize {
		n := gridChunkSize
		if off+n > total {
			n = total - off
		}
		t.chunks = append(t.chunks, make([]uint32, n))
	}
	return t
}

func (t *Table) index(h, v int) int {
	return h*t.vDim + v
}

func (t *Table) cell(idx int) *uint32 {
	chunk := idx / gridChunkSize
	off := idx % gridChunkSize
	return &t.chunks[chunk][off]
}

// Remap exposes the underlying RemapTable (e.g. so a caller can call
// NewGen before a batch of Touch calls).
func (t *Table) Remap() *RemapTable { return t.remap }

// Set stores a raw key at (h, v), to be resolved by a later Touch or
// Get.
func (t *Table) Set(h, v int, rawKey uint32) {
	*t.cell(t.index(h, v)) = rawKey
}

// Touch resolves the raw key currently stored at (h, v) through the
// remap table for the current generation and stores the mapped value
// back into the cell.
func (t *Table) Touch(h, v int) uint32 {
	cell := t.cell(t.index(h, v))
	mapped := t.remap.Touch(*cell)
	*cell = mapped
	return mapped
}

// Get returns whatever value currently occupies (h, v), without
// touching the remap table. Before Compact this is the generation's
// mapped value (or whatever raw key was Set); after Compact it is the
// final dense index.
func (t *Table) Get(h, v int) uint32 {
	return *t.cell(t.index(h, v))
}

// Compact compacts the underlying remap table, then rewrites every
// grid cell through the resulting dense mapping.
func (t *Table) Compact() {
	t.remap.Compact()
	for _, chunk := range t.chunks {
		for i := range chunk {
			chunk[i] = t.remap.compactedBySlot(chunk[i])
		}
	}
}

// compactedBySlot resolves a raw value-slot (as stored directly in a
// grid cell, rather than through a key lookup) to its post-Compact
// dense index.
func (r *RemapTable) compactedBySlot(slot uint32) uint32 {
	if int(slot) >= len(r.compacted) {
		return Invalid
	}
	return r.compacted[slot]
}
