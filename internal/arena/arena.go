// Package arena provides the page-granularity address-space supplier the
// slab allocator imports from and returns memory to. It is a named
// collaborator of the allocator (spec.md §6's "arena" supplier contract),
// not the allocator itself: out of scope for this repository's design work,
// but the allocator cannot function without a concrete implementation of it.
//
// Two Sources are provided: PageArena, a direct mmap-backed page allocator
// playing the role of the "base arena", and BumpArena, a larger-granularity
// bump allocator built on top of a Source that plays the role of the
// "kpages arena". This port builds no static bootstrap caches (see
// pkg/kmem/bootstrap.go), so any cache may import from either Source.
//
// © 2025 kmemslab authors. MIT License.
package arena

import (
	"errors"
	"sync"
)

// Flags mirror spec.md §6's allocation flags as they apply to an arena
// Source. Sources here never block, so FlagNone and FlagAtomic behave
// identically; the flag exists for interface symmetry with the cache façade.
type Flags uint8

const (
	FlagNone Flags = 0
	// FlagAtomic requests non-blocking semantics. Both Source
	// implementations in this package are always non-blocking.
	FlagAtomic Flags = 1 << iota
)

// ErrExhausted is a named condition callers can log against; Source methods
// signal exhaustion through their bool return, not through this error.
var ErrExhausted = errors.New("arena: allocation request could not be satisfied")

// Source is the arena supplier contract from spec.md §6:
//
//	arena_alloc(source, size, flags) -> addr | null
//	arena_free(source, addr, size)
//	attribute qcache_max
type Source interface {
	// Alloc returns the base address and a byte-addressable view of size
	// bytes, or ok=false if the request could not be satisfied.
	Alloc(size int, flags Flags) (addr uintptr, mem []byte, ok bool)
	// Free returns a previously allocated region to the source. addr and
	// size must exactly match a prior successful Alloc.
	Free(addr uintptr, size int)
	// QCacheMax is the largest object size this source expects its qcaches
	// to be asked to serve; used to size a qcache's import amount
	// (spec.md §4.1: round_up_pow2(3 * source.qcache_max)).
	QCacheMax() int
}

/* -------------------------------------------------------------------------
   BumpArena: the "kpages" analog. Imports big chunks from a backing Source
   and bump-allocates within them, amortizing the cost of the underlying
   page-granularity supplier the way a real kpages arena amortizes
   page-table churn.
   ------------------------------------------------------------------------- */

// BumpArena imports fixed-size chunks from a backing Source and serves
// allocations by bumping an offset within the current chunk.
type BumpArena struct {
	mu        sync.Mutex
	backing   Source
	chunkSize int
	qcacheMax int

	cur     []byte
	curAddr uintptr
	off     int
	chunks  []chunkRef
}

type chunkRef struct {
	addr uintptr
	size int
}

// NewBumpArena constructs a bump arena that imports chunkSize-byte regions
// from backing on demand. qcacheMax is exposed via QCacheMax so that
// qcache-flagged caches importing from this arena size their slabs
// accordingly.
func NewBumpArena(backing Source, chunkSize, qcacheMax int) *BumpArena {
	return &BumpArena{
		backing:   backing,
		chunkSize: chunkSize,
		qcacheMax: qcacheMax,
	}
}

func (b *BumpArena) QCacheMax() int { return b.qcacheMax }

func (b *BumpArena) Alloc(size int, flags Flags) (uintptr, []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size > b.chunkSize {
		// Oversized request: import a dedicated chunk just for it.
		addr, mem, ok := b.backing.Alloc(size, flags)
		if !ok {
			return 0, nil, false
		}
		b.chunks = append(b.chunks, chunkRef{addr: addr, size: size})
		return addr, mem, true
	}
	if b.cur == nil || b.off+size > len(b.cur) {
		addr, mem, ok := b.backing.Alloc(b.chunkSize, flags)
		if !ok {
			return 0, nil, false
		}
		b.chunks = append(b.chunks, chunkRef{addr: addr, size: b.chunkSize})
		// The backing Source may round up (PageArena rounds to a page); only
		// chunkSize bytes of each chunk are bump-allocated.
		b.cur = mem[:b.chunkSize]
		b.curAddr = addr
		b.off = 0
	}
	addr := b.curAddr + uintptr(b.off)
	mem := b.cur[b.off : b.off+size]
	b.off += size
	return addr, mem, true
}

// Free is a best-effort no-op for bump-allocated regions: individual
// objects within a chunk are never returned to the backing Source
// independently. Oversized dedicated-chunk allocations are returned
// immediately, since each one owns its whole chunk.
func (b *BumpArena) Free(addr uintptr, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size <= b.chunkSize {
		return
	}
	for i, c := range b.chunks {
		if c.addr == addr && c.size == size {
			b.backing.Free(addr, size)
			b.chunks = append(b.chunks[:i], b.chunks[i+1:]...)
			return
		}
	}
}

// Reclaim releases every chunk this arena has imported back to the backing
// Source. Only safe once every allocation from it has been abandoned; used
// by tests and full-process teardown, never by the allocator itself
// (spec.md's Non-goals exclude arena-pressure reclaim).
func (b *BumpArena) Reclaim() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.chunks {
		b.backing.Free(c.addr, c.size)
	}
	b.chunks = nil
	b.cur = nil
	b.off = 0
}
