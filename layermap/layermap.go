// Package layermap implements a stack of TTL maps with age-based
// rotation: writes always land in the current "active" layer, reads
// fall through active, then the hot read-only layer, then the rest of
// the read-only chain, and rotation periodically retires an aged-out
// layer and recycles the oldest outdated one in its place (spec §4.12).
package layermap

import (
	"fmt"

	"github.com/sakateka/fpcore/ttlmap"
)

// Config is shared, immutable across every layer a Map ever allocates.
type Config struct {
	TTL ttlmap.Config
}

// layer is one read-only chain link: an immutable (post-rotation) TTL
// map plus the pointer continuing the chain toward older layers.
type layer struct {
	m    *ttlmap.Map
	next *layer
}

// Map is a stack of TTL maps with age-based rotation.
type Map struct {
	cfg      Config
	active   *ttlmap.Map
	readOnly *layer // newest first; readOnly is the "hot" layer just behind active
	outdated *layer // layers available for reuse by rotate
}

// New creates a Map whose active layer is a fresh TTL map built from
// cfg.TTL.
func New(cfg Config) (*Map, error) {
	active, err := ttlmap.New(cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("layermap: %w", err)
	}
	return &Map{cfg: cfg, active: active}, nil
}

// Put delegates to the active layer; writers only ever address active.
func (m *Map) Put(worker int, now, ttl uint64, key, value []byte) error {
	return m.active.Put(worker, now, ttl, key, value)
}

// Get tries active, then the hot read-only layer, then the remaining
// read-only layers, newest first. Every layer, including the older
// read-only ones, is read through ttlmap.Get, which takes that layer's
// bucket read lock; on a hit the returned Lock must be released.
func (m *Map) Get(now uint64, key []byte) ([]byte, *ttlmap.Lock, bool) {
	if v, lock, ok := m.active.Get(now, key); ok {
		return v, lock, true
	}
	if m.readOnly != nil {
		if v, lock, ok := m.readOnly.m.Get(now, key); ok {
			return v, lock, true
		}
		for l := m.readOnly.next; l != nil; l = l.next {
			if v, lock, ok := l.m.Get(now, key); ok {
				return v, lock, true
			}
		}
	}
	return nil, nil, false
}

// Rotate detaches every read-only layer (other than the hot head) whose
// max deadline has already passed, recycles the oldest outdated layer
// (allocating a fresh one if none is available) as the new active
// layer, prepends the current active to the read-only chain, and
// appends the newly detached layers to the outdated list.
func (m *Map) Rotate(now uint64) error {
	var detachedHead, detachedTail *layer
	if m.readOnly != nil {
		prev := m.readOnly
		cur := m.readOnly.next
		for cur != nil {
			next := cur.next
			if cur.m.MaxDeadline() <= now {
				prev.next = next
				cur.next = nil
				if detachedHead == nil {
					detachedHead = cur
				} else {
					detachedTail.next = cur
				}
				detachedTail = cur
			} else {
				prev = cur
			}
			cur = next
		}
	}

	var reused *ttlmap.Map
	if m.outdated != nil {
		reused = m.outdated.m
		m.outdated = m.outdated.next
	} else {
		fresh, err := ttlmap.New(m.cfg.TTL)
		if err != nil {
			return fmt.Errorf("layermap: rotate: %w", err)
		}
		reused = fresh
	}
	reused.Clear()

	m.readOnly = &layer{m: m.active, next: m.readOnly}
	m.active = reused

	if detachedHead != nil {
		if m.outdated == nil {
			m.outdated = detachedHead
		} else {
			tail := m.outdated
			for tail.next != nil {
				tail = tail.next
			}
			tail.next = detachedHead
		}
	}
	return nil
}
