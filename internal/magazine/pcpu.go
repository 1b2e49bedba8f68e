package magazine

import (
	"runtime"
	"sync/atomic"
)

// PCPU is a per-logical-CPU cache: two magazine slots (loaded tried first,
// previous absorbs the swap) plus a local view of the depot's magsize and a
// lifetime allocation counter (spec.md §3 "Per-CPU cache").
//
// Real kernels give this mutual exclusion for free by disabling interrupts
// on the current core. Go has no portable equivalent (goroutines migrate
// between OS threads freely), so per spec.md §9's own prescribed
// substitute, PCPU carries an embedded spinlock that stands in for
// "interrupts disabled on this logical CPU": whichever goroutine holds it
// has exclusive, race-free access to the slot, and the common case (an
// uncontended slot) never blocks.
type PCPU struct {
	locked int32

	Loaded     *Magazine
	Previous   *Magazine
	Magsize    int
	allocsEver atomic.Uint64
}

func (p *PCPU) tryLock() bool {
	return atomic.CompareAndSwapInt32(&p.locked, 0, 1)
}

func (p *PCPU) lock() {
	for !p.tryLock() {
		runtime.Gosched()
	}
}

func (p *PCPU) unlock() {
	atomic.StoreInt32(&p.locked, 0)
}

// AllocsEver returns the lifetime count of objects handed out from this
// slot's loaded magazine (spec.md §6's per-CPU nr_allocs_ever).
func (p *PCPU) AllocsEver() uint64 { return p.allocsEver.Load() }

// Stat is a point-in-time, lock-protected snapshot of one PCPU slot, used
// for observability (spec.md §6, §10.2 of SPEC_FULL.md).
type Stat struct {
	AllocsEver     uint64
	LoadedRounds   int
	PreviousRounds int
	Magsize        int
}

// Snapshot takes the slot's spinlock briefly to read a consistent view.
// Never called from the allocation/free fast path.
func (p *PCPU) Snapshot() Stat {
	p.lock()
	defer p.unlock()
	return Stat{
		AllocsEver:     p.allocsEver.Load(),
		LoadedRounds:   p.Loaded.Rounds(),
		PreviousRounds: p.Previous.Rounds(),
		Magsize:        p.Magsize,
	}
}
