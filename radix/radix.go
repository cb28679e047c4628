// Package radix implements the fixed-depth, 256-ary radix tree shared
// by both the plain key->value index (this package) and the LPM tree
// built on top of the same page layout (spec §4.7).
package radix

import "fmt"

// Invalid marks an empty page entry.
const Invalid uint32 = 0xFFFFFFFF

const pageWidth = 256

// page is one 256-entry, 1 KiB level of the tree.
type page [pageWidth]uint32

// pageChunk groups pages in batches of this size to minimise
// reallocation churn as the tree grows (spec §4.7).
const pageChunk = 16

// pageStore is a growable flat array of pages addressed by dense index.
type pageStore struct {
	chunks [][]page
	count  int
}

func (s *pageStore) alloc() (idx int, pg *page) {
	chunkIdx := s.count / pageChunk
	if chunkIdx >= len(s.chunks) {
		s.chunks = append(s.chunks, make([]page, pageChunk))
	}
	idx = s.count
	pg = &s.chunks[chunkIdx][s.count%pageChunk]
	for i := range pg {
		pg[i] = Invalid
	}
	s.count++
	return idx, pg
}

func (s *pageStore) get(idx int) *page {
	return &s.chunks[idx/pageChunk][idx%pageChunk]
}

// Tree is a dense k-byte (k in {4,8}) key to u32 value map: exactly k
// indexed page hops, no branching factor beyond 256 per hop.
type Tree struct {
	keySize int
	pages   pageStore
}

// New creates an empty tree over keySize-byte (4 or 8) big-endian keys.
func New(keySize int) (*Tree, error) {
	if keySize != 4 && keySize != 8 {
		return nil, fmt.Errorf("radix: key size must be 4 or 8, got %d", keySize)
	}
	t := &Tree{keySize: keySize}
	t.pages.alloc() // page 0 is the root
	return t, nil
}

// KeySize returns the configured key width.
func (t *Tree) KeySize() int { return t.keySize }

// Insert stores value at key, allocating intermediate pages as needed.
func (t *Tree) Insert(key []byte, value uint32) {
	pageIdx := 0
	for depth := 0; depth < t.keySize; depth++ {
		b := key[depth]
		pg := t.pages.get(pageIdx)
		if depth == t.keySize-1 {
			pg[b] = value
			return
		}
		entry := pg[b]
		if entry == Invalid {
			newIdx, _ := t.pages.alloc()
			t.pages.get(pageIdx)[b] = uint32(newIdx)
			pageIdx = newIdx
		} else {
			pageIdx = int(entry)
		}
	}
}

// Lookup returns the value stored at key, or (0, false) if absent.
func (t *Tree) Lookup(key []byte) (uint32, bool) {
	pageIdx := 0
	for depth := 0; depth < t.keySize; depth++ {
		b := key[depth]
		entry := t.pages.get(pageIdx)[b]
		if entry == Invalid {
			return 0, false
		}
		if depth == t.keySize-1 {
			return entry, true
		}
		pageIdx = int(entry)
	}
	return 0, false
}

// Walk performs a depth-first traversal, invoking cb once per stored
// (key, value) pair with value != Invalid. The key slice passed to cb
// is reused between calls and must not be retained.
func (t *Tree) Walk(cb func(key []byte, value uint32)) {
	key := make([]byte, t.keySize)
	t.walk(0, 0, key, cb)
}

func (t *Tree) walk(pageIdx, depth int, key []byte, cb func([]byte, uint32)) {
	pg := t.pages.get(pageIdx)
	for b := 0; b < pageWidth; b++ {
		entry := pg[b]
		if entry == Invalid {
			continue
		}
		key[depth] = byte(b)
		if depth == t.keySize-1 {
			cb(key, entry)
		} else {
			t.walk(int(entry), depth+1, key, cb)
		}
	}
}

// PageCount returns the number of allocated pages, used by tests and
// statistics reporting.
func (t *Tree) PageCount() int { return t.pages.count }
