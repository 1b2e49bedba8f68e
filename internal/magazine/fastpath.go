package magazine

import "unsafe"

// SlabSource is how the magazine layer falls through to the slab layer once
// both per-CPU magazines and the depot are exhausted (spec.md §4.4 step 5).
type SlabSource interface {
	// AllocFromSlab obtains one object directly from the slab layer,
	// running the constructor. atomicFlag mirrors the caller's allocation
	// flags (spec.md §6).
	AllocFromSlab(atomicFlag bool) (unsafe.Pointer, bool)
	// FreeToSlabWithDtor runs the destructor (if any) and returns obj to
	// the slab layer directly, bypassing magazines entirely.
	FreeToSlabWithDtor(obj unsafe.Pointer)
}

// MagazineSource supplies a fresh, empty magazine from the magazine cache
// when the depot's empty list runs dry during a free (spec.md §4.4 step 5).
// In pkg/kmem every cache supplies its own magazineFactory here; the same
// factory also seeds the cache's per-CPU array at construction time
// (spec.md §4.5 self-referential bootstrap). There is no shared
// kmem_magazine cache.
type MagazineSource interface {
	AllocMagazine() (*Magazine, bool)
}

// FastPath bundles a cache's per-CPU vector and depot, implementing
// spec.md §4.4's alloc/free state machine.
type FastPath struct {
	pcpus    []*PCPU
	selector *PinSelector
	Depot    *Depot
	Slab     SlabSource
	Mag      MagazineSource
}

// NewFastPath constructs nrCPU per-CPU slots, each seeded with two
// magazines obtained from newMag (the raw slab-alloc bypass during
// bootstrap, or an ordinary magazine-cache allocation otherwise) per
// spec.md §3's "both slots are always non-null after construction"
// invariant.
func NewFastPath(nrCPU int, depot *Depot, slab SlabSource, mag MagazineSource, newMag func() *Magazine) *FastPath {
	pcpus := make([]*PCPU, nrCPU)
	for i := range pcpus {
		pcpus[i] = &PCPU{
			Magsize:  depot.Magsize,
			Loaded:   newMag(),
			Previous: newMag(),
		}
	}
	return &FastPath{
		pcpus:    pcpus,
		selector: NewPinSelector(pcpus),
		Depot:    depot,
		Slab:     slab,
		Mag:      mag,
	}
}

// Alloc implements spec.md §4.4's alloc state machine.
func (f *FastPath) Alloc(atomicFlag bool) (unsafe.Pointer, bool) {
	var a txnAssert
	p := f.selector.Acquire()
	for {
		if round, ok := p.Loaded.Pop(); ok {
			p.allocsEver.Add(1)
			f.selector.Release(p)
			return round, true
		}
		if !p.Previous.Empty() {
			p.Loaded, p.Previous = p.Previous, p.Loaded
			continue
		}
		// Lock ordering: pcc -> depot.
		a.recordDepotAcquire()
		f.Depot.Lock()
		if m := f.Depot.popNotEmpty(); m != nil {
			f.Depot.Return(p.Previous)
			f.Depot.Unlock()
			p.Previous = p.Loaded
			p.Loaded = m
			continue
		}
		f.Depot.Unlock()
		break
	}
	f.selector.Release(p)
	a.recordSlabFallback()
	return f.Slab.AllocFromSlab(atomicFlag)
}

// Free implements spec.md §4.4's free state machine.
func (f *FastPath) Free(obj unsafe.Pointer) {
	var a txnAssert
	for {
		a.reset()
		p := f.selector.Acquire()
		placed := false
		for {
			if p.Loaded.HasRoom(p.Magsize) {
				p.Loaded.Push(obj)
				placed = true
				break
			}
			if p.Previous.HasRoom(p.Magsize) {
				p.Loaded, p.Previous = p.Previous, p.Loaded
				continue
			}
			a.recordDepotAcquire()
			f.Depot.Lock()
			// Propagation channel for a depot resize: refresh the local
			// magsize the next time this pcpu visits the depot on free.
			p.Magsize = f.Depot.Magsize
			if m := f.Depot.popEmpty(); m != nil {
				f.Depot.Return(p.Previous)
				f.Depot.Unlock()
				p.Previous = p.Loaded
				p.Loaded = m
				continue
			}
			f.Depot.Unlock()
			break
		}
		f.selector.Release(p)
		if placed {
			return
		}
		// A fresh phase: replenishing the depot's empty list is a distinct
		// state-machine step from the loaded/previous/depot placement
		// attempt above, so it gets its own one-acquisition budget.
		a.reset()
		if m, ok := f.Mag.AllocMagazine(); ok {
			a.recordDepotAcquire()
			f.Depot.Lock()
			f.Depot.pushEmpty(m)
			f.Depot.Unlock()
			continue
		}
		a.recordSlabFallback()
		f.Slab.FreeToSlabWithDtor(obj)
		return
	}
}

// DrainToDepot empties every per-CPU slot's loaded and previous magazines
// into the depot. Used by Cache.Destroy (spec.md §4.1): at that point no
// concurrent use is permitted, so slots are drained without contention.
func (f *FastPath) DrainToDepot() {
	f.selector.Each(func(p *PCPU) {
		f.Depot.Lock()
		f.Depot.Return(p.Loaded)
		f.Depot.Return(p.Previous)
		f.Depot.Unlock()
		p.Loaded = nil
		p.Previous = nil
	})
}

// Stats returns a per-logical-CPU observability snapshot (spec.md §6).
func (f *FastPath) Stats() []Stat {
	out := make([]Stat, 0, len(f.pcpus))
	for _, p := range f.pcpus {
		out = append(out, p.Snapshot())
	}
	return out
}

// NumCPU returns the number of logical-CPU slots this FastPath manages.
func (f *FastPath) NumCPU() int { return f.selector.Len() }
