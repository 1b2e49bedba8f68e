// Package magazine implements the per-CPU cache and depot tier of the
// allocator's fast path (spec.md §4.4), grounded directly on
// kern/src/slab.c's kmem_magazine/kmem_depot/kmem_pcpu_cache and the
// Bonwick-Adams "Magazines and Vmem" algorithm it implements.
//
// A Magazine is a fixed-capacity stack of object pointers ("rounds"); it is
// the unit of batch transfer between a per-CPU cache and the depot. This
// package never owns the slab layer or the cache façade — both are supplied
// as callback interfaces (SlabSource, MagazineSource) so that magazine stays
// free of an import cycle with pkg/kmem, the same way slab.c's magazine code
// calls back into kmem_cache_alloc/__kmem_free_to_slab without knowing about
// cache creation.
//
// © 2025 kmemslab authors. MIT License.
package magazine

import "unsafe"

// Magazine is a fixed-capacity stack of rounds (object pointers), plus a
// singly-linked next field so magazines can be threaded through the depot's
// not-empty/empty lists without a general-purpose list container owning
// them (spec.md §9).
type Magazine struct {
	rounds []unsafe.Pointer
	n      int
	next   *Magazine
}

// NewMagazine allocates a magazine with room for capacity rounds.
func NewMagazine(capacity int) *Magazine {
	return &Magazine{rounds: make([]unsafe.Pointer, capacity)}
}

// Capacity returns the magazine's fixed round capacity.
func (m *Magazine) Capacity() int { return len(m.rounds) }

// Rounds returns the number of rounds currently held.
func (m *Magazine) Rounds() int { return m.n }

// Empty reports whether the magazine holds zero rounds.
func (m *Magazine) Empty() bool { return m.n == 0 }

// HasRoom reports whether the magazine has space for another round given a
// target fill level n (spec.md §4.4: "has room", not "is empty" — during a
// resize a magazine may have fewer rounds than the new capacity).
func (m *Magazine) HasRoom(n int) bool { return m.n < n }

// Push appends a round. Returns false if the magazine is at full physical
// capacity (never exceeded, regardless of the logical magsize hint).
func (m *Magazine) Push(p unsafe.Pointer) bool {
	if m.n >= len(m.rounds) {
		return false
	}
	m.rounds[m.n] = p
	m.n++
	return true
}

// Pop removes and returns the top round, LIFO.
func (m *Magazine) Pop() (unsafe.Pointer, bool) {
	if m.n == 0 {
		return nil, false
	}
	m.n--
	p := m.rounds[m.n]
	m.rounds[m.n] = nil
	return p, true
}

// Drain empties the magazine, returning every round it held in LIFO-pop
// order. Used when destroying a cache: every outstanding magazine's
// contents must flow back through the slab layer.
func (m *Magazine) Drain() []unsafe.Pointer {
	out := make([]unsafe.Pointer, m.n)
	for i := 0; i < m.n; i++ {
		out[i] = m.rounds[m.n-1-i]
		m.rounds[m.n-1-i] = nil
	}
	m.n = 0
	return out
}
