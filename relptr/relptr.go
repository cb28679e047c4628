// Package relptr implements the relative-pointer ABI shared by every
// container in this module: a stored pointer never holds a virtual
// address, only a byte offset, so that a whole arena can be relocated
// to a new base address (a different mmap, a different process) without
// rewriting a single pointer.
//
// Concretely, a Ptr holds the byte offset of its target measured from
// the arena's own base rather than from the slot holding the pointer.
// Both conventions satisfy the same relocation invariant (copy the
// bytes, reinterpret against the new base); arena-relative offsets are
// used here because they resolve without knowing the slot's own
// address. In this module the arena's block allocator threads its free
// lists through Ptr values; the LPM/radix pages, bucket map groups and
// TTL map buckets live in ordinary Go memory and do not use Ptr.
package relptr

// Null is the stored value meaning "points nowhere".
const Null int64 = -1

// Ptr is a relative pointer: the byte offset of its target from the
// owning arena's base, or Null.
type Ptr int64

// IsNull reports whether p resolves to no target.
func (p Ptr) IsNull() bool {
	return p == Ptr(Null)
}

// Deref resolves p to an arena-relative byte offset. ok is false when p
// is Null.
func (p Ptr) Deref() (target int64, ok bool) {
	if p.IsNull() {
		return 0, false
	}
	return int64(p), true
}

// Store returns the relative pointer that resolves to target, the
// "store address" operation from the ABI contract. Pass Null explicitly
// to store a null pointer.
func Store(target int64) Ptr {
	if target < 0 {
		return Ptr(Null)
	}
	return Ptr(target)
}

// Copy returns a pointer that resolves to the same target as src. It
// exists to document the ABI's third operation; since offsets are
// arena-relative rather than slot-relative, copying is the identity.
func Copy(src Ptr) Ptr {
	return src
}
