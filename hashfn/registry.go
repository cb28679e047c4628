// Package hashfn is the small, closed registry of hash, equality and
// rng implementations referenced by id rather than by function pointer,
// so that two processes mapping the same arena agree on behaviour by id
// instead of by an address that is meaningless across processes
// (spec §6, §9 "Global state").
package hashfn

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash/fnv"
)

// ID identifies one registered function. Only the variants below are
// ever valid; this is intentionally a closed set, not an open-world
// plugin mechanism (spec §9 "Dynamic dispatch").
type ID uint8

const (
	// HashFNV1a is the default hash function id, used to split a key
	// into H1 (bucket selector) and H2 (slot signature).
	HashFNV1a ID = iota
	// EqualMemcmp is the default key-equality function id.
	EqualMemcmp
	// RandSecure draws from a cryptographically secure source.
	RandSecure
	// RandLCG is a fast, reproducible (seedable) linear-congruential
	// generator, used when determinism across runs matters more than
	// unpredictability (e.g. reproducing a test failure).
	RandLCG
)

// ErrUnknownID is returned when an ID outside the closed set above is
// requested.
var ErrUnknownID = errors.New("hashfn: unknown function id")

// HashFunc computes a 64-bit hash of key using seed as an additional
// mixing input.
type HashFunc func(key []byte, seed uint64) uint64

// EqualFunc reports whether two keys of the same declared key_size are
// equal.
type EqualFunc func(a, b []byte) bool

// Hash resolves a HashFunc by id.
func Hash(id ID) (HashFunc, error) {
	switch id {
	case HashFNV1a:
		return fnv1a, nil
	default:
		return nil, ErrUnknownID
	}
}

// Equal resolves an EqualFunc by id.
func Equal(id ID) (EqualFunc, error) {
	switch id {
	case EqualMemcmp:
		return memcmpEqual, nil
	default:
		return nil, ErrUnknownID
	}
}

func fnv1a(key []byte, seed uint64) uint64 {
	h := fnv.New64a()
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	_, _ = h.Write(seedBuf[:])
	_, _ = h.Write(key)
	return h.Sum64()
}

func memcmpEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RNG draws 64 bits of randomness from the registered source.
type RNG interface {
	Uint64() uint64
}

// NewRNG resolves an RNG by id. RandLCG requires a non-zero seed; zero
// is replaced with a fixed odd default so the generator never
// degenerates to an all-zero stream.
func NewRNG(id ID, seed uint64) (RNG, error) {
	switch id {
	case RandSecure:
		return secureRNG{}, nil
	case RandLCG:
		if seed == 0 {
			seed = 0x9E3779B97F4A7C15
		}
		return &lcgRNG{state: seed}, nil
	default:
		return nil, ErrUnknownID
	}
}

type secureRNG struct{}

func (secureRNG) Uint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing indicates a broken entropy source on
		// the host; there is no safe degraded mode to fall back to.
		panic("hashfn: crypto/rand unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// lcgRNG is a 64-bit linear congruential generator using the constants
// from Knuth's MMIX, chosen for a full period over 2^64 and a single
// multiply-add per draw.
type lcgRNG struct {
	state uint64
}

func (g *lcgRNG) Uint64() uint64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state
}
