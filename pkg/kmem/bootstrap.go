package kmem

// bootstrap.go documents and implements spec.md §4.5's bootstrapping
// design: the magazine cache must exist before any other cache can be
// populated, since building a per-CPU array needs two magazines per
// logical CPU up front, and it is self-referential — the magazine cache's
// own per-CPU arrays obtain their magazines via the raw slab-level
// allocation path, bypassing the magazine layer entirely.
//
// In slab.c this self-reference is solved with four statically
// preallocated caches (kmem_cache, kmem_slab, kmem_bufctl, kmem_magazine)
// because C must carve its own Cache/Slab/Bufctl/Magazine *structs* out of
// manually managed memory, and doing that requires a fixed-size allocator
// to already exist. Go's runtime already is that general fixed/variable
// size object allocator: Cache, slab, and bufctl.Bufctl here are ordinary
// GC-managed heap values, never placed in arena bytes, so rebuilding a
// second allocator underneath them would be both unsafe (the GC cannot
// scan pointers living in unmanaged mmap'd memory) and pointless. What
// genuinely survives the port is the one load-bearing fact spec.md §4.5
// describes: every cache's per-CPU array needs magazines before that
// cache exists, including the magazine factory's own "self" case.
//
// © 2025 kmemslab authors. MIT License.

import (
	"sync"

	"github.com/voskan/kmemslab/internal/magazine"
)

// magazineFactory hands out fresh, empty magazines for one cache's depot
// and per-CPU slots. Every magazine it constructs carries the same
// physical capacity — the cache's configured MAX magazine size — so that a
// depot resize (which only ever raises the *logical* magsize target, never
// the physical array size) can never cause a later Push to fail; see
// magazine.Magazine.HasRoom's "has room, not is empty" note.
//
// Per-cache factories, not one process-wide kmem_magazine cache: unlike
// slab.c, where every cache's magazines are identically-sized C structs
// that benefit from one shared slab pool, this port's Magazine values have
// no physical backing to share (they're plain Go heap objects), and
// different caches may legitimately want different max-magazine tunables.
type magazineFactory struct {
	mu        sync.Mutex
	physCap   int
	handedOut uint64
}

func newMagazineFactory(physCap int) *magazineFactory {
	return &magazineFactory{physCap: physCap}
}

// new constructs a fresh magazine directly, bypassing any FastPath. This is
// the raw "alloc_from_slab bypass" spec.md §4.5 calls for: used both to
// seed a brand new cache's initial per-CPU array (including the magazine
// factory's own notional "cache") and whenever a depot needs a fresh empty
// magazine.
func (f *magazineFactory) new() *magazine.Magazine {
	f.mu.Lock()
	f.handedOut++
	f.mu.Unlock()
	return magazine.NewMagazine(f.physCap)
}

// AllocMagazine implements magazine.MagazineSource.
func (f *magazineFactory) AllocMagazine() (*magazine.Magazine, bool) {
	return f.new(), true
}

// HandedOut reports the lifetime count of magazines this factory has
// constructed. No Cache method exposes it.
func (f *magazineFactory) HandedOut() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handedOut
}
