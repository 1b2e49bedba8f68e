//go:build !unix

package arena

import (
	"sync"
	"unsafe"
)

// PageSize is the granularity PageArena allocates and frees in. Non-unix
// targets have no portable mmap equivalent in this repository's dependency
// set, so we fall back to a manually page-aligned byte slice, the same idiom
// ortuman-nuke's slabArena uses for its GC-backed regions.
var PageSize = 4096

// PageArena backs the Source contract with GC-managed, manually aligned
// byte slices on platforms without unix mmap. Free is a documented no-op:
// a slice has no explicit unmap, so the region is simply abandoned to the
// garbage collector once the allocator stops referencing it.
type PageArena struct {
	mu        sync.Mutex
	qcacheMax int
}

func NewPageArena(qcacheMax int) *PageArena {
	return &PageArena{qcacheMax: qcacheMax}
}

func (p *PageArena) QCacheMax() int { return p.qcacheMax }

func (p *PageArena) Alloc(size int, _ Flags) (uintptr, []byte, bool) {
	if size <= 0 {
		return 0, nil, false
	}
	size = roundUpPage(size)
	// Over-allocate by one page so we can hand back a page-aligned
	// sub-slice regardless of where the Go allocator placed the buffer.
	raw := make([]byte, size+PageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(PageSize) - 1) &^ (uintptr(PageSize) - 1)
	off := aligned - base
	mem := raw[off : off+uintptr(size) : off+uintptr(size)]
	return aligned, mem, true
}

func (p *PageArena) Free(addr uintptr, size int) {
	// No explicit unmap on this path; the GC reclaims the slice once the
	// allocator drops every reference into it.
}

func roundUpPage(size int) int {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
