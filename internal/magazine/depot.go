package magazine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default tunables, taken verbatim from kern/src/slab.c: resize_timeout_ns
// and resize_threshold, plus the magazine size bounds KMC_MAG_MIN_SZ /
// KMC_MAG_MAX_SZ.
const (
	DefaultResizeTimeout   = time.Second
	DefaultResizeThreshold = 1
	DefaultMinMagazine     = 4
	DefaultMaxMagazine     = 512
)

// Depot is the per-cache global pool of magazines, partitioned into
// not-empty and empty singly-linked lists, plus the contention-driven
// resize policy from spec.md §4.4.
type Depot struct {
	mu sync.Mutex

	notEmpty   *Magazine
	empty      *Magazine
	nrNotEmpty int
	nrEmpty    int

	// Magsize is the depot's current view of the "fill to" target. It is
	// read without the depot lock for metrics (pkg/kmem's
	// refreshDepotMetrics); propagation into a pcpu's local copy only ever
	// happens while the depot lock is held (see FastPath.Free).
	Magsize int

	minMagsize int
	maxMagsize int

	busyCount     uint
	busyStart     time.Time
	resizeTimeout time.Duration
	resizeThresh  uint

	// contentions counts every contended (blocking) Lock call, for
	// observability (spec.md §6's depot contention metric). Not used by the
	// resize policy itself; busyCount/busyStart track that independently.
	contentions atomic.Uint64
}

// NewDepot constructs a depot with the given magazine-size bounds and
// contention-resize tunables.
func NewDepot(minMagsize, maxMagsize int, resizeTimeout time.Duration, resizeThreshold uint) *Depot {
	if minMagsize <= 0 {
		minMagsize = DefaultMinMagazine
	}
	if maxMagsize < minMagsize {
		maxMagsize = minMagsize
	}
	return &Depot{
		Magsize:       minMagsize,
		minMagsize:    minMagsize,
		maxMagsize:    maxMagsize,
		resizeTimeout: resizeTimeout,
		resizeThresh:  resizeThreshold,
	}
}

// Lock acquires the depot's mutex, running the contention-driven resize
// policy exactly as kern/src/slab.c's lock_depot does: the fast path is an
// uncontended TryLock; only a contended acquisition counts against the
// resize window, and only when there is at least one not-empty magazine
// (otherwise contention reflects "not enough magazines yet", not "magazines
// are too small").
func (d *Depot) Lock() {
	if d.mu.TryLock() {
		return
	}
	d.contentions.Add(1)
	// Read the time before blocking so a long wait for a contended lock
	// doesn't artificially shrink the observed burst window.
	t := time.Now()
	d.mu.Lock()
	if d.nrNotEmpty == 0 {
		return
	}
	if t.Sub(d.busyStart) > d.resizeTimeout {
		d.busyCount = 0
		d.busyStart = t
	}
	d.busyCount++
	if d.busyCount > d.resizeThresh {
		d.busyCount = 0
		if d.Magsize < d.maxMagsize {
			d.Magsize++
		}
	}
}

// Unlock releases the depot's mutex.
func (d *Depot) Unlock() {
	d.mu.Unlock()
}

// popNotEmpty detaches and returns the head of the not-empty list, or nil.
// Caller must hold the depot lock.
func (d *Depot) popNotEmpty() *Magazine {
	m := d.notEmpty
	if m != nil {
		d.notEmpty = m.next
		m.next = nil
		d.nrNotEmpty--
	}
	return m
}

// popEmpty detaches and returns the head of the empty list, or nil. Caller
// must hold the depot lock.
func (d *Depot) popEmpty() *Magazine {
	m := d.empty
	if m != nil {
		d.empty = m.next
		m.next = nil
		d.nrEmpty--
	}
	return m
}

// Return classifies mag by its current emptiness and pushes it onto the
// matching list. Caller must hold the depot lock.
func (d *Depot) Return(mag *Magazine) {
	if mag.Empty() {
		mag.next = d.empty
		d.empty = mag
		d.nrEmpty++
	} else {
		mag.next = d.notEmpty
		d.notEmpty = mag
		d.nrNotEmpty++
	}
}

// pushEmpty inserts a freshly allocated, empty magazine directly onto the
// empty list. Caller must hold the depot lock.
func (d *Depot) pushEmpty(mag *Magazine) {
	mag.next = d.empty
	d.empty = mag
	d.nrEmpty++
}

// DrainAll removes every magazine from both lists, invoking fn on each
// (used by cache destruction to push their contents back through the slab
// layer before discarding the magazines themselves). Caller must hold the
// depot lock, or call this only when no other goroutine can reach the
// depot (e.g. during Cache.Destroy, per spec.md's "no concurrent use"
// precondition).
func (d *Depot) DrainAll(fn func(*Magazine)) {
	for m := d.notEmpty; m != nil; {
		next := m.next
		m.next = nil
		fn(m)
		m = next
	}
	for m := d.empty; m != nil; {
		next := m.next
		m.next = nil
		fn(m)
		m = next
	}
	d.notEmpty = nil
	d.empty = nil
	d.nrNotEmpty = 0
	d.nrEmpty = 0
}

// Counts returns the current not-empty/empty magazine counts.
func (d *Depot) Counts() (notEmpty, empty int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nrNotEmpty, d.nrEmpty
}

// Contentions returns the lifetime count of contended (blocking) Lock
// calls, for observability (spec.md §6).
func (d *Depot) Contentions() uint64 {
	return d.contentions.Load()
}
