//go:build unix

package arena

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the granularity PageArena allocates and frees in.
var PageSize = unix.Getpagesize()

// PageArena is the base arena: every region it hands out is page-aligned
// (mmap always returns page-aligned addresses), satisfying spec.md §4.2's
// requirement that the source arena for small/pro-touch caches be
// page-aligned.
type PageArena struct {
	mu        sync.Mutex
	live      map[uintptr]int // addr -> size, for debugging/Free validation
	qcacheMax int
}

// NewPageArena constructs a mmap-backed page arena. qcacheMax sizes qcache
// imports for caches created directly against this arena (rare; most
// ordinary caches import from a BumpArena layered on top of this one).
func NewPageArena(qcacheMax int) *PageArena {
	return &PageArena{
		live:      make(map[uintptr]int),
		qcacheMax: qcacheMax,
	}
}

func (p *PageArena) QCacheMax() int { return p.qcacheMax }

func (p *PageArena) Alloc(size int, _ Flags) (uintptr, []byte, bool) {
	if size <= 0 {
		return 0, nil, false
	}
	size = roundUpPage(size)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, false
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))

	p.mu.Lock()
	p.live[addr] = size
	p.mu.Unlock()

	return addr, mem, true
}

func (p *PageArena) Free(addr uintptr, size int) {
	size = roundUpPage(size)

	p.mu.Lock()
	delete(p.live, addr)
	p.mu.Unlock()

	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	_ = unix.Munmap(mem)
}

func roundUpPage(size int) int {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
