// Package bufctl implements the external control record and hash index used
// by the large/no-touch slab regime (spec.md §4.3). A Bufctl exists in
// exactly one list at a time: either threaded through its owning slab's
// free list, or threaded through one bucket of the cache's HashIndex.
//
// Grounded on kern/src/slab.c's BSD_LIST-based bufctl freelist and hash
// table (hash_ptr/hash_needs_more/__try_hash_resize), reworked as an
// intrusive singly-linked structure per spec.md §9 — no general-purpose
// list container owns a Bufctl.
//
// © 2025 kmemslab authors. MIT License.
package bufctl

import (
	"fmt"
)

// Bufctl is the control record for one object slot in the large/no-touch
// regime. Slab is an opaque back-pointer the owning slab package stamps and
// reads; bufctl itself never dereferences it, which keeps this package free
// of an import cycle with the slab layer.
type Bufctl struct {
	Addr uintptr
	Slab any
	next *Bufctl // freelist / hash-bucket chain link
}

/* -------------------------------------------------------------------------
   HashIndex: static-then-dynamic hash table mapping object address -> Bufctl
   ------------------------------------------------------------------------- */

const (
	staticBuckets = 64
	// loadFactorThreshold matches slab.c's hash_needs_more: grow once the
	// table holds more entries than buckets (load factor > 1).
	loadFactorThreshold = 1
)

// HashIndex maps an object address to its Bufctl in O(1) amortized. It
// starts with a small fixed-size embedded bucket array and grows into a
// heap-allocated table on demand (spec.md §9's "static-then-dynamic hash
// table"); growth never fails loudly (spec.md §7 ResizeElision) — on
// allocation failure the index just keeps operating overloaded.
type HashIndex struct {
	static  [staticBuckets]*Bufctl
	buckets []*Bufctl // points at &static[0] until the first resize
	nrItems int
}

// NewHashIndex constructs an index whose bucket slice aliases the embedded
// static array, so the first resize can recognize (by identity) that the
// old table must NOT be freed as if it were heap-allocated.
func NewHashIndex() *HashIndex {
	h := &HashIndex{}
	h.buckets = h.static[:]
	return h
}

func hashAddr(addr uintptr, nrBuckets int) int {
	// xxhash-style avalanche over the pointer bits; cheap and adequate for
	// power-of-two bucket counts.
	x := uint64(addr)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return int(x) & (nrBuckets - 1)
}

// Insert registers bc under its Addr. Triggers growIfNeeded afterwards.
func (h *HashIndex) Insert(bc *Bufctl) {
	idx := hashAddr(bc.Addr, len(h.buckets))
	bc.next = h.buckets[idx]
	h.buckets[idx] = bc
	h.nrItems++
	h.growIfNeeded()
}

// Lookup finds and unlinks the Bufctl for addr. Panics if absent: a missing
// lookup means a double-free or a free of an address foreign to this cache
// (spec.md §7 InvariantViolation), which is unrecoverable by design.
func (h *HashIndex) Lookup(addr uintptr) *Bufctl {
	idx := hashAddr(addr, len(h.buckets))
	var prev *Bufctl
	for bc := h.buckets[idx]; bc != nil; bc = bc.next {
		if bc.Addr == addr {
			if prev == nil {
				h.buckets[idx] = bc.next
			} else {
				prev.next = bc.next
			}
			bc.next = nil
			h.nrItems--
			return bc
		}
		prev = bc
	}
	panic(fmt.Sprintf("bufctl: address %#x not found in hash index (double-free or foreign free)", addr))
}

// growIfNeeded doubles the bucket count when the load factor threshold is
// exceeded. Mirrors slab.c's __try_hash_resize: allocation is "atomic" (it
// never blocks) and silently declines to grow on failure — in Go terms,
// that's simply "growth never actually fails", but we keep the shape so the
// allocator's contract (ResizeElision is non-fatal) stays visible and the
// API has a seam for a bounded-allocation variant later.
func (h *HashIndex) growIfNeeded() {
	if h.nrItems <= len(h.buckets)*loadFactorThreshold {
		return
	}
	newBuckets := make([]*Bufctl, len(h.buckets)*2)
	for _, head := range h.buckets {
		for bc := head; bc != nil; {
			next := bc.next
			idx := hashAddr(bc.Addr, len(newBuckets))
			bc.next = newBuckets[idx]
			newBuckets[idx] = bc
			bc = next
		}
	}
	h.buckets = newBuckets
}

// IsStatic reports whether the index is still using its embedded bucket
// array (never grown). Used only by tests to assert on the static/dynamic
// transition; production code never needs to distinguish the two.
func (h *HashIndex) IsStatic() bool {
	return &h.buckets[0] == &h.static[0]
}

// Len returns the number of entries currently indexed.
func (h *HashIndex) Len() int { return h.nrItems }

// Buckets returns the current bucket count, so callers can detect a resize
// by comparing this value before and after an Insert.
func (h *HashIndex) Buckets() int { return len(h.buckets) }

// FreelistHead threads a freelist of Bufctls (used for a slab's
// bufctl_freelist). It is intentionally a bare *Bufctl, not a container: the
// slab owns the head, Bufctl owns the next link (spec.md §9).
type FreelistHead struct {
	head *Bufctl
}

// Push prepends bc to the freelist.
func (f *FreelistHead) Push(bc *Bufctl) {
	bc.next = f.head
	f.head = bc
}

// Pop removes and returns the head of the freelist, or nil if empty.
func (f *FreelistHead) Pop() *Bufctl {
	bc := f.head
	if bc == nil {
		return nil
	}
	f.head = bc.next
	bc.next = nil
	return bc
}

// Empty reports whether the freelist has no entries.
func (f *FreelistHead) Empty() bool { return f.head == nil }

// Each calls fn for every Bufctl currently on the freelist, in list order.
// Used by slab destruction to find the lowest buffer address before
// returning the import to the arena.
func (f *FreelistHead) Each(fn func(*Bufctl)) {
	for bc := f.head; bc != nil; bc = bc.next {
		fn(bc)
	}
}
