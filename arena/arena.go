// Package arena provides the mapped memory region, the power-of-two
// block allocator over it, and the named memory-context accounting
// wrapper that every container in this module builds on.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sakateka/fpcore/relptr"
)

// ErrInvalidArgument is returned for zero/out-of-range sizes or
// misaligned regions.
var ErrInvalidArgument = errors.New("arena: invalid argument")

// ErrOutOfMemory is returned when no pool can satisfy an allocation.
var ErrOutOfMemory = errors.New("arena: out of memory")

// Arena is a contiguous mapped region hosting all container data.
// It is 8-byte aligned at both ends, as required by every structure
// that threads relative pointers through it.
type Arena struct {
	buf    []byte
	mapped bool
}

// New maps an anonymous region of at least size bytes, backed by
// unix.Mmap so the region behaves like the hugepages-backed files this
// module is meant to run over in production; it is zeroed on creation
// like any fresh mmap.
func New(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidArgument)
	}
	aligned := alignUp(int64(size), 8)
	data, err := unix.Mmap(-1, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}
	return &Arena{buf: data, mapped: true}, nil
}

// NewFromBytes wraps a caller-provided, already-mapped byte slice (e.g.
// a shared-memory segment obtained by another collaborator) instead of
// creating a fresh mapping. The slice's length must already be 8-byte
// aligned.
func NewFromBytes(buf []byte) (*Arena, error) {
	if len(buf) == 0 || len(buf)%8 != 0 {
		return nil, fmt.Errorf("%w: region must be non-empty and 8-byte aligned", ErrInvalidArgument)
	}
	return &Arena{buf: buf}, nil
}

// Close unmaps the region if it was created by New; an arena from
// NewFromBytes is released without unmapping the caller's slice. It is
// a no-op on an already-released arena.
func (a *Arena) Close() error {
	if a == nil || a.buf == nil {
		return nil
	}
	var err error
	if a.mapped {
		err = unix.Munmap(a.buf)
	}
	a.buf = nil
	return err
}

// Len returns the arena's total size in bytes.
func (a *Arena) Len() int64 {
	return int64(len(a.buf))
}

// Bytes returns the full backing slice. Callers holding an offset from
// relptr should slice into the result themselves; the arena does not
// itself enforce bounds beyond what Go's slice machinery already does.
func (a *Arena) Bytes() []byte {
	return a.buf
}

// At returns the n-byte slice starting at the given arena-relative
// offset. It panics on out-of-range offsets, matching the fast-path
// assumption that containers never address outside their own arena.
func (a *Arena) At(offset int64, n int) []byte {
	return a.buf[offset : offset+int64(n)]
}

// Deref resolves a relptr.Ptr rooted in this arena to its backing bytes.
func (a *Arena) Deref(p relptr.Ptr, n int) ([]byte, bool) {
	off, ok := p.Deref()
	if !ok {
		return nil, false
	}
	return a.At(off, n), true
}

func alignUp(v, align int64) int64 {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func alignDown(v, align int64) int64 {
	return v - (v % align)
}

func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
