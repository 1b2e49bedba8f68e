package kmem

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/voskan/kmemslab/internal/arena"
)

// boundedSource is a test-only arena.Source that fails once a byte budget is
// exhausted, to exercise spec.md §8's OOM-propagation scenario without
// depending on the real page arena's system resources.
type boundedSource struct {
	mu        sync.Mutex
	remaining int
	live      map[uintptr]int
}

func newBoundedSource(budget int) *boundedSource {
	return &boundedSource{remaining: budget, live: make(map[uintptr]int)}
}

func (b *boundedSource) Alloc(size int, _ arena.Flags) (uintptr, []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size > b.remaining {
		return 0, nil, false
	}
	mem := make([]byte, size)
	addr := uintptr(unsafe.Pointer(&mem[0]))
	b.remaining -= size
	b.live[addr] = size
	return addr, mem, true
}

func (b *boundedSource) Free(addr uintptr, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[addr]; ok {
		delete(b.live, addr)
		b.remaining += size
	}
}

func (b *boundedSource) QCacheMax() int { return 4096 }

func newUnboundedSource() *boundedSource {
	return newBoundedSource(1 << 30)
}

/* -------------------------------------------------------------------------
   Scenario 1: cache-warm LIFO alloc/free
   ------------------------------------------------------------------------- */

func TestAllocFreeWarmLIFO(t *testing.T) {
	res, err := Create("warm", 32, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	a, err := c.Alloc(AllocError)
	require.NoError(t, err)
	b, err := c.Alloc(AllocError)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	c.Free(b)
	c.Free(a)

	// Both objects recycle through the per-CPU magazine (LIFO), so the next
	// two allocations must return exactly a (freed last) then b.
	got1, err := c.Alloc(AllocError)
	require.NoError(t, err)
	got2, err := c.Alloc(AllocError)
	require.NoError(t, err)
	require.Equal(t, a, got1)
	require.Equal(t, b, got2)
}

/* -------------------------------------------------------------------------
   Scenario 2: small vs large regime selection
   ------------------------------------------------------------------------- */

func TestSmallRegimeForSmallObjects(t *testing.T) {
	res, err := Create("small", 16, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Cache.small)
}

func TestLargeRegimeAboveCutoff(t *testing.T) {
	res, err := Create("large", largeCutoff+1, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	require.False(t, res.Cache.small)
}

func TestNoTouchFlagForcesLargeRegime(t *testing.T) {
	res, err := Create("forced-large", 16, 8, FlagNoTouch, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	require.False(t, res.Cache.small)
}

func TestUndersizedObjectFallsBackToLargeRegime(t *testing.T) {
	// An object smaller than a pointer cannot thread a freelist through
	// itself; Create must silently fall back to the bufctl regime rather
	// than fail.
	res, err := Create("tiny", 1, 1, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	require.False(t, res.Cache.small)
}

/* -------------------------------------------------------------------------
   Scenario 3: name truncation
   ------------------------------------------------------------------------- */

func TestNameTruncation(t *testing.T) {
	long := "this-cache-name-is-definitely-longer-than-31-bytes"
	res, err := Create(long, 32, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.LessOrEqual(t, len(res.Cache.Name()), MaxNameLength)
}

/* -------------------------------------------------------------------------
   Scenario 4: arena OOM propagation
   ------------------------------------------------------------------------- */

func TestAllocErrorOnArenaExhaustion(t *testing.T) {
	// Budget big enough for exactly one slab import, not two.
	res, err := Create("oom", 64, 8, FlagNone, newBoundedSource(4096), nil, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	var allocated []unsafe.Pointer
	for {
		obj, err := c.Alloc(AllocError)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfMemory)
			break
		}
		allocated = append(allocated, obj)
		if len(allocated) > 10000 {
			t.Fatal("allocation never exhausted the bounded arena")
		}
	}
	require.NotEmpty(t, allocated)
}

func TestAllocAtomicReturnsNilOnExhaustion(t *testing.T) {
	res, err := Create("oom-atomic", 64, 8, FlagNone, newBoundedSource(4096), nil, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	for i := 0; i < 10000; i++ {
		obj, err := c.Alloc(AllocAtomic)
		require.NoError(t, err)
		if obj == nil {
			return
		}
	}
	t.Fatal("allocation never exhausted the bounded arena")
}

/* -------------------------------------------------------------------------
   Scenario 5: constructor failure aborts the allocation
   ------------------------------------------------------------------------- */

func TestCtorFailureAbortsAllocAndReturnsObjectToSlab(t *testing.T) {
	var calls int
	failN := 2
	ctor := func(obj unsafe.Pointer, _ any) error {
		calls++
		if calls == failN {
			return errors.New("synthetic ctor failure")
		}
		return nil
	}

	res, err := Create("ctor-fail", 32, 8, FlagNone, newUnboundedSource(), ctor, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	_, err = c.Alloc(AllocError)
	require.NoError(t, err)

	_, err = c.Alloc(AllocError)
	require.Error(t, err)
	require.Equal(t, int64(1), c.CurAlloc())

	// The slab slot the failed ctor vacated must be reusable.
	calls = failN // force the next ctor call to succeed
	obj, err := c.Alloc(AllocError)
	require.NoError(t, err)
	require.NotNil(t, obj)
}

/* -------------------------------------------------------------------------
   Scenario 6: depot resize under contention
   ------------------------------------------------------------------------- */

func TestDepotMagsizeGrowsUnderContention(t *testing.T) {
	res, err := Create("contention", 32, 8, FlagNone, newUnboundedSource(), nil, nil, nil,
		WithMinMagazine(1), WithMaxMagazine(8))
	require.NoError(t, err)
	c := res.Cache

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				obj, err := c.Alloc(AllocAtomic)
				if err != nil || obj == nil {
					continue
				}
				c.Free(obj)
			}
		}()
	}
	wg.Wait()

	grew := false
	for _, p := range c.PerCPUStats() {
		if p.Magsize > 1 {
			grew = true
			break
		}
	}
	require.True(t, grew, "expected sustained contention to grow the depot magsize past its minimum")
}

/* -------------------------------------------------------------------------
   Reap / Destroy
   ------------------------------------------------------------------------- */

func TestReapDestroysOnlyEmptySlabs(t *testing.T) {
	res, err := Create("reap", 64, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	var objs []unsafe.Pointer
	for i := 0; i < 4; i++ {
		obj, err := c.Alloc(AllocError)
		require.NoError(t, err)
		objs = append(objs, obj)
	}
	for _, o := range objs {
		c.freeToSlabWithDtor(o) // bypass magazines to force the slab truly empty
	}

	c.mu.Lock()
	emptyBefore := c.nEmpty
	c.mu.Unlock()
	require.Equal(t, 1, emptyBefore)

	c.Reap()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, 0, c.nEmpty)
}

func TestDestroyRejectsDoubleDestroy(t *testing.T) {
	res, err := Create("destroy", 32, 8, FlagNone, newUnboundedSource(), nil, nil, nil)
	require.NoError(t, err)
	c := res.Cache

	require.NoError(t, c.Destroy())
	require.ErrorIs(t, c.Destroy(), ErrAlreadyDestroyed)
}

func TestDestroyDrainsMagazinesThroughDtor(t *testing.T) {
	var freed int
	dtor := func(unsafe.Pointer, any) { freed++ }

	res, err := Create("destroy-dtor", 32, 8, FlagNone, newUnboundedSource(), nil, dtor, nil)
	require.NoError(t, err)
	c := res.Cache

	obj, err := c.Alloc(AllocError)
	require.NoError(t, err)
	c.Free(obj) // lands in a per-CPU magazine, not yet destructed

	require.NoError(t, c.Destroy())
	require.Equal(t, 1, freed)
}
