// Package kmem implements the allocator core spec.md §3-§4 describes: a
// Bonwick-style slab/magazine object-cache allocator. A Cache is a typed
// allocator for fixed-size objects, backed by an arena.Source, a slab
// layer (internal/bufctl for the large/no-touch regime), and a two-level
// magazine cache (internal/magazine) that amortizes per-CPU contention.
//
// © 2025 kmemslab authors. MIT License.
package kmem

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/voskan/kmemslab/internal/arena"
	"github.com/voskan/kmemslab/internal/bufctl"
	"github.com/voskan/kmemslab/internal/magazine"
	"github.com/voskan/kmemslab/internal/reapjournal"
	"github.com/voskan/kmemslab/internal/unsafeutil"
)

const (
	// MaxNameLength mirrors slab.c's KMC_NAME_SZ: names longer than this
	// are truncated (spec.md §10.1 of SPEC_FULL.md).
	MaxNameLength = 31

	// largeCutoff is the object-size threshold above which a cache always
	// switches to the bufctl/no-touch regime.
	largeCutoff = 512
)

var pointerSize = unsafe.Sizeof(uintptr(0))

// pageSize is the granularity the small/pro-touch regime slices slabs into;
// it tracks the base arena's actual page granularity (spec.md §4.2: "the
// source arena for small caches must be page-aligned") rather than
// hardcoding 4096, since arena.PageSize varies on platforms with larger
// native pages.
var pageSize = arena.PageSize

// atomicArenaFlags requests non-blocking semantics from the arena source;
// every growSlab call uses it (spec.md §4.2: "obtains memory from the
// arena with atomic semantics").
const atomicArenaFlags = arena.FlagAtomic

// Flags select cache-creation behavior (spec.md §6).
type Flags uint8

const (
	FlagNone Flags = 0
	// FlagQCache marks this cache as a small helper cache for an arena's
	// own qcaches; it changes the import-amount sizing formula.
	FlagQCache Flags = 1 << iota
	// FlagNoTouch forces the bufctl/no-touch regime even for small objects.
	FlagNoTouch
)

// AllocFlags select per-call allocation behavior (spec.md §6).
type AllocFlags uint8

const (
	AllocNone AllocFlags = 0
	// AllocWait permits blocking in lower allocators; meaningless on the
	// per-CPU fast path, only consulted when falling through to slab-layer
	// alloc. This port has no blocking arena, so AllocWait only affects
	// what happens on OOM: without AllocAtomic or AllocError, OOM is fatal.
	AllocWait AllocFlags = 1 << iota
	// AllocAtomic requests a non-blocking, null-on-failure return.
	AllocAtomic
	// AllocError requests an error return on OOM instead of a panic.
	AllocError
)

// Ctor runs exactly once per object before it is first handed to a caller
// after being (re)obtained from the slab layer. A non-nil return aborts the
// allocation and returns the object to the slab (spec.md §6).
type Ctor func(obj unsafe.Pointer, priv any) error

// Dtor runs exactly once before an object's storage returns to the slab
// layer, never when it is merely recycled through the depot or a per-CPU
// magazine (spec.md §6).
type Dtor func(obj unsafe.Pointer, priv any)

// CreateResult carries Create's *Cache alongside whether its requested
// name was truncated to MaxNameLength.
type CreateResult struct {
	Cache     *Cache
	Truncated bool
}

// Cache is a typed allocator for fixed-size objects (spec.md §3).
type Cache struct {
	name    string
	objSize uintptr // effective size, after alignment rounding
	align   uintptr
	flags   Flags
	small   bool // pro-touch regime; false means bufctl/no-touch

	importAmt int
	source    arena.Source

	ctor Ctor
	dtor Dtor
	priv any

	mu                               sync.Mutex
	fullHead, partialHead, emptyHead *slab
	nFull, nPartial, nEmpty         int
	pageIndex                       map[uintptr]*slab // small regime only
	hash                            *bufctl.HashIndex // large regime only

	depot  *magazine.Depot
	magFac *magazineFactory
	fast   *magazine.FastPath

	curAlloc        atomic.Int64
	lastContentions atomic.Uint64

	logger  *zap.Logger
	metrics metricsSink
	journal *reapjournal.Journal

	destroyed atomic.Bool
}

var registry = struct {
	mu  sync.Mutex
	all []*Cache
}{}

// Registry returns a snapshot of every currently-registered cache (spec.md
// §6's "a process-global list of all caches").
func Registry() []*Cache {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]*Cache, len(registry.all))
	copy(out, registry.all)
	return out
}

// cacheSlabSource adapts *Cache to magazine.SlabSource, keeping the
// magazine package free of any dependency on pkg/kmem (avoids an import
// cycle: magazine is imported BY kmem).
type cacheSlabSource struct{ c *Cache }

func (s cacheSlabSource) AllocFromSlab(atomicFlag bool) (unsafe.Pointer, bool) {
	return s.c.allocFromSlabWithCtor()
}

func (s cacheSlabSource) FreeToSlabWithDtor(obj unsafe.Pointer) {
	s.c.freeToSlabWithDtor(obj)
}

// Create constructs and registers a new cache (spec.md §4.1).
func Create(name string, objectSize int, align uintptr, flags Flags, source arena.Source, ctor Ctor, dtor Dtor, priv any, opts ...Option) (*CreateResult, error) {
	if align == 0 || align > uintptr(pageSize) {
		fatalf("kmem: cache %q: alignment %d must be nonzero and <= page size", name, align)
	}
	if objectSize <= 0 {
		return nil, errInvalidObjectSize
	}

	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	truncated := false
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
		truncated = true
	}

	effSize := unsafeutil.AlignUp(uintptr(objectSize), align)
	noTouch := flags&FlagNoTouch != 0 || uintptr(objectSize) > largeCutoff
	if !noTouch && effSize < pointerSize {
		// Too small to thread a freelist through its own storage; fall
		// back to the bufctl regime rather than fail creation outright.
		noTouch = true
	}

	var importAmt int
	if flags&FlagQCache != 0 {
		importAmt = int(unsafeutil.RoundUpPow2(uintptr(3 * source.QCacheMax())))
	} else {
		importAmt = roundUpPage(cfg.numPerSlab*int(effSize), pageSize)
	}

	c := &Cache{
		name:      name,
		objSize:   effSize,
		align:     align,
		flags:     flags,
		small:     !noTouch,
		importAmt: importAmt,
		source:    source,
		ctor:      ctor,
		dtor:      dtor,
		priv:      priv,
		logger:    cfg.logger,
		metrics:   newMetricsSink(cfg.registry),
		journal:   cfg.journal,
	}
	if c.small {
		c.pageIndex = make(map[uintptr]*slab)
	} else {
		c.hash = bufctl.NewHashIndex()
	}

	c.depot = magazine.NewDepot(cfg.minMagazine, cfg.maxMagazine, cfg.resizeTimeout, cfg.resizeThreshold)
	c.magFac = newMagazineFactory(cfg.maxMagazine)

	nrCPU := runtime.GOMAXPROCS(0)
	c.fast = magazine.NewFastPath(nrCPU, c.depot, cacheSlabSource{c: c}, c.magFac, c.magFac.new)

	registry.mu.Lock()
	registry.all = append(registry.all, c)
	registry.mu.Unlock()

	c.logger.Info("kmem cache created",
		zap.String("cache", c.name),
		zap.Int("object_size", int(c.objSize)),
		zap.Bool("no_touch", !c.small),
		zap.Int("import_amount", c.importAmt),
	)

	return &CreateResult{Cache: c, Truncated: truncated}, nil
}

// Name returns the cache's (possibly truncated) name.
func (c *Cache) Name() string { return c.name }

// CurAlloc returns the number of objects currently allocated from this
// cache's slab layer (spec.md §6's nr_cur_alloc) — it does not count
// objects sitting idle in magazines (spec.md §8's testable property).
func (c *Cache) CurAlloc() int64 { return c.curAlloc.Load() }

// PerCPUStats returns a point-in-time snapshot of every logical CPU's
// magazine state (spec.md §6's per-CPU nr_allocs_ever).
func (c *Cache) PerCPUStats() []magazine.Stat { return c.fast.Stats() }

// allocFromSlabWithCtor obtains one object directly from the slab layer
// and runs the constructor, per spec.md §4.1: "Run the constructor after
// releasing the cache lock; on ctor failure, return the object via the
// slab-level free path and fail the call."
func (c *Cache) allocFromSlabWithCtor() (unsafe.Pointer, bool) {
	c.mu.Lock()
	obj, ok := c.allocFromSlabLocked()
	full, partial, empty := c.nFull, c.nPartial, c.nEmpty
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("kmem: arena exhausted", zap.String("cache", c.name))
		return nil, false
	}
	c.metrics.setSlabCounts(c.name, full, partial, empty)
	c.refreshDepotMetrics()

	if c.ctor != nil {
		if err := c.ctor(obj, c.priv); err != nil {
			c.mu.Lock()
			c.freeToSlabLocked(obj)
			c.mu.Unlock()
			c.logger.Warn("kmem: constructor rejected object",
				zap.String("cache", c.name), zap.Error(err))
			return nil, false
		}
	}

	c.curAlloc.Add(1)
	c.metrics.incObjectsAllocated(c.name)
	return obj, true
}

// freeToSlabWithDtor runs the destructor (if any) and returns obj to the
// slab layer directly, bypassing magazines entirely — the path the
// per-CPU/depot fast path falls through to on free (spec.md §4.4 step 5).
func (c *Cache) freeToSlabWithDtor(obj unsafe.Pointer) {
	if c.dtor != nil {
		c.dtor(obj, c.priv)
	}
	c.mu.Lock()
	c.freeToSlabLocked(obj)
	full, partial, empty := c.nFull, c.nPartial, c.nEmpty
	c.mu.Unlock()
	c.curAlloc.Add(-1)
	c.metrics.setSlabCounts(c.name, full, partial, empty)
	c.refreshDepotMetrics()
}

// refreshDepotMetrics samples the depot's current magazine counts, logical
// magsize, and lifetime contention count. Only called from the slab-layer
// slow path (never the per-CPU fast path), since every call here is already
// paying for a slab-layer trip.
func (c *Cache) refreshDepotMetrics() {
	notEmpty, empty := c.depot.Counts()
	c.metrics.setDepotMagazines(c.name, notEmpty, empty)
	c.metrics.setDepotMagsize(c.name, c.depot.Magsize)
	n := c.depot.Contentions()
	prev := c.lastContentions.Swap(n)
	if n > prev {
		c.metrics.addDepotContention(c.name, n-prev)
	}
}

// Alloc implements spec.md §4.1/§4.4's alloc operation.
func (c *Cache) Alloc(flags AllocFlags) (unsafe.Pointer, error) {
	obj, ok := c.fast.Alloc(flags&AllocAtomic != 0)
	if ok {
		return obj, nil
	}
	switch {
	case flags&AllocError != 0:
		return nil, ErrOutOfMemory
	case flags&AllocAtomic != 0:
		return nil, nil
	default:
		fatalf("kmem: cache %q: allocation failed with neither AllocAtomic nor AllocError requested", c.name)
		return nil, nil // unreachable
	}
}

// Free implements spec.md §4.1/§4.4's free operation. Freeing an address
// not allocated from this cache is undefined, per spec.md §4.1.
func (c *Cache) Free(obj unsafe.Pointer) {
	c.fast.Free(obj)
}

// Reap destroys every slab on the empty list, leaving partial and full
// slabs untouched (spec.md §4.1).
func (c *Cache) Reap() {
	c.mu.Lock()
	var freedSlabs int
	for s := c.emptyHead; s != nil; {
		next := s.next
		listRemove(&c.emptyHead, s)
		c.nEmpty--
		c.destroySlabRecord(s)
		freedSlabs++
		s = next
	}
	full, partial, empty := c.nFull, c.nPartial, c.nEmpty
	c.mu.Unlock()

	if freedSlabs == 0 {
		return
	}
	c.metrics.setSlabCounts(c.name, full, partial, empty)
	c.metrics.incReapSlabs(c.name, freedSlabs)
	c.logger.Info("kmem cache reaped", zap.String("cache", c.name), zap.Int("slabs_freed", freedSlabs))
	c.appendJournal(freedSlabs)
}

// Destroy implements spec.md §4.1's destroy operation. Preconditions: no
// concurrent use. A non-empty full or partial slab list at this point is a
// fatal invariant violation.
func (c *Cache) Destroy() error {
	if !c.destroyed.CompareAndSwap(false, true) {
		return ErrAlreadyDestroyed
	}

	c.fast.DrainToDepot()
	c.depot.DrainAll(func(m *magazine.Magazine) {
		for {
			obj, ok := m.Pop()
			if !ok {
				break
			}
			c.freeToSlabWithDtor(obj)
		}
	})

	c.mu.Lock()
	if c.fullHead != nil || c.partialHead != nil {
		c.mu.Unlock()
		fatalf("kmem: destroy of cache %q with non-empty full/partial slab lists", c.name)
	}
	var freedSlabs int
	for s := c.emptyHead; s != nil; {
		next := s.next
		listRemove(&c.emptyHead, s)
		c.nEmpty--
		c.destroySlabRecord(s)
		freedSlabs++
		s = next
	}
	c.mu.Unlock()

	registry.mu.Lock()
	for i, rc := range registry.all {
		if rc == c {
			registry.all = append(registry.all[:i], registry.all[i+1:]...)
			break
		}
	}
	registry.mu.Unlock()

	c.logger.Info("kmem cache destroyed", zap.String("cache", c.name), zap.Int("slabs_freed", freedSlabs))
	c.appendJournal(freedSlabs)
	return nil
}

func (c *Cache) appendJournal(freedSlabs int) {
	if c.journal == nil || freedSlabs == 0 {
		return
	}
	_ = c.journal.Append(reapjournal.Record{
		CacheName:  c.name,
		SlabsFreed: freedSlabs,
		BytesFreed: int64(freedSlabs) * int64(c.regionSize()),
		At:         time.Now(),
	})
}
