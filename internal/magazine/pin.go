package magazine

import "sync/atomic"

// PinSelector emulates "select this CPU's per-CPU cache" (spec.md §4.4 step
// 1) without a portable core_id(). It hands out whichever slot it can
// acquire uncontended first, starting from a sticky hint slot, falling back
// to blocking on the hint slot only if every slot is momentarily busy. The
// hint moves only when the hint slot was busy, so uncontended callers keep
// landing on the same slot (cache-warm LIFO reuse). This preserves the fast
// path's "no locks on the common case" property: an idle system always finds
// a free slot on the first probe.
type PinSelector struct {
	slots []*PCPU
	rr    atomic.Uint64
}

// NewPinSelector constructs a selector over the given slots.
func NewPinSelector(slots []*PCPU) *PinSelector {
	return &PinSelector{slots: slots}
}

// Acquire returns a locked PCPU slot. The caller must call Release on the
// exact slot returned once its critical section is done.
func (s *PinSelector) Acquire() *PCPU {
	n := uint64(len(s.slots))
	start := s.rr.Load()
	for i := uint64(0); i < n; i++ {
		idx := (start + i) % n
		p := s.slots[idx]
		if p.tryLock() {
			if i != 0 {
				s.rr.Store(idx)
			}
			return p
		}
	}
	p := s.slots[start%n]
	p.lock()
	return p
}

// Release unlocks a slot previously returned by Acquire.
func (s *PinSelector) Release(p *PCPU) {
	p.unlock()
}

// Each calls fn for every slot, in index order. Used for draining every
// per-CPU slot during Cache.Destroy — at that point spec.md guarantees no
// concurrent use, so no locking is taken.
func (s *PinSelector) Each(fn func(*PCPU)) {
	for _, p := range s.slots {
		fn(p)
	}
}

// Len returns the number of logical-CPU slots.
func (s *PinSelector) Len() int { return len(s.slots) }
