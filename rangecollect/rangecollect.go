// Package rangecollect turns a stream of (network address, prefix
// length) pairs into a non-overlapping LPM tree labelled with freshly
// minted dense values (spec §4.9).
package rangecollect

import (
	"bytes"
	"fmt"

	"github.com/sakateka/fpcore/lpm"
	"github.com/sakateka/fpcore/radix"
)

// MaskSet accumulates, per distinct network address, the set of prefix
// lengths it was added with, as a bitmask keyed by an internal radix
// tree over the canonical address.
type MaskSet struct {
	keySize int
	index   *radix.Tree
	masks   [][]byte
}

// NewMaskSet creates an empty set over keySize-byte (4 or 8) addresses.
func NewMaskSet(keySize int) (*MaskSet, error) {
	idx, err := radix.New(keySize)
	if err != nil {
		return nil, err
	}
	return &MaskSet{keySize: keySize, index: idx}, nil
}

// Add records that network (a keySize-byte canonical network address,
// i.e. with all bits past prefixLen already zeroed) was inserted with
// prefix length prefixLen (1..keySize*8).
func (s *MaskSet) Add(network []byte, prefixLen int) error {
	if prefixLen < 1 || prefixLen > s.keySize*8 {
		return fmt.Errorf("rangecollect: prefix length %d out of range for %d-byte keys", prefixLen, s.keySize)
	}
	id, ok := s.index.Lookup(network)
	if !ok {
		id = uint32(len(s.masks))
		s.masks = append(s.masks, make([]byte, s.keySize))
		s.index.Insert(network, id)
	}
	idx := (prefixLen+7)/8 - 1
	bit := byte(0x80 >> (prefixLen % 8))
	s.masks[id][idx] |= bit
	return nil
}

// Collect walks every recorded (address, prefix length) pair in
// ascending address order and, within an address, from the shortest to
// the longest recorded prefix, feeding a stack-based emitter that
// guarantees the ranges written into target never overlap: a narrower,
// later network carves a fresh-valued gap out of whatever broader
// network currently covers it.
func (s *MaskSet) Collect(target *lpm.Tree) error {
	if target.KeySize() != s.keySize {
		return fmt.Errorf("rangecollect: target key size %d does not match set key size %d", target.KeySize(), s.keySize)
	}
	em := &emitter{target: target}
	s.index.Walk(func(addr []byte, id uint32) {
		mask := s.masks[id]
		for p := 1; p <= s.keySize*8; p++ {
			idx := (p+7)/8 - 1
			bit := byte(0x80 >> (p % 8))
			if mask[idx]&bit == 0 {
				continue
			}
			em.push(addr, networkEnd(addr, p, s.keySize))
		}
	})
	em.finish()
	return nil
}

// networkEnd computes the last address in the range covered by the
// prefixLen-bit network starting at start.
func networkEnd(start []byte, prefixLen, keySize int) []byte {
	end := append([]byte(nil), start...)
	hostBits := keySize*8 - prefixLen
	fullBytes := hostBits / 8
	remBits := hostBits % 8
	for i := 0; i < fullBytes; i++ {
		end[keySize-1-i] = 0xFF
	}
	if remBits > 0 {
		end[keySize-1-fullBytes] |= byte(0xFF >> (8 - remBits))
	}
	return end
}

type stackEntry struct {
	curStart []byte
	end      []byte
}

// emitter implements the stack of pending "upper bounds" described in
// spec §4.9: it holds the broad-to-narrow chain of networks currently
// open, carving a freshly labelled segment [curStart, start-1] out of
// the innermost (top-of-stack) open entry every time a narrower network
// begins after that entry's current (possibly already-carved) start.
type emitter struct {
	target *lpm.Tree
	stack  []stackEntry
	next   uint32
}

func (e *emitter) mint() uint32 {
	v := e.next
	e.next++
	return v
}

func (e *emitter) popAndEmit() {
	n := len(e.stack) - 1
	entry := e.stack[n]
	e.stack = e.stack[:n]
	e.target.Insert(entry.curStart, entry.end, e.mint())
	if len(e.stack) > 0 {
		e.stack[len(e.stack)-1].curStart = incrementBytes(entry.end)
	}
}

func (e *emitter) push(start, end []byte) {
	for len(e.stack) > 0 && bytes.Compare(e.stack[len(e.stack)-1].end, start) < 0 {
		e.popAndEmit()
	}
	if len(e.stack) > 0 {
		top := &e.stack[len(e.stack)-1]
		if bytes.Compare(start, top.curStart) > 0 {
			e.target.Insert(top.curStart, decrementBytes(start), e.mint())
			top.curStart = incrementBytes(end)
		}
	}
	e.stack = append(e.stack, stackEntry{
		curStart: append([]byte(nil), start...),
		end:      append([]byte(nil), end...),
	})
}

func (e *emitter) finish() {
	for len(e.stack) > 0 {
		e.popAndEmit()
	}
}

// incrementBytes treats b as a big-endian number and adds 1, wrapping
// to all-zero on overflow of the all-0xFF maximum — which
// only matters past the very end of the key space, where there is
// nothing left to carve a range out of anyway.
func incrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return out
}

// decrementBytes treats b as a big-endian number and subtracts 1. It is
// only ever called with b strictly greater than a stack entry's current
// start, so it never underflows below zero in practice.
func decrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out
		}
		out[i] = 0xFF
	}
	return out
}
