package kmem

// slab.go implements spec.md §4.2's slab layer: the tagged small/large
// slab representation, the three intrusive doubly-linked lists
// (full/partial/empty — never a generic container/list, per spec.md §9),
// cache_grow, alloc_from_slab, and free_to_slab.
//
// © 2025 kmemslab authors. MIT License.

import (
	"unsafe"

	"github.com/voskan/kmemslab/internal/bufctl"
	"github.com/voskan/kmemslab/internal/unsafeutil"
)

// slab is the ownership record for one arena import (spec.md §3). It
// belongs to exactly one of a cache's full/partial/empty lists at a time,
// linked via the embedded prev/next fields — list membership is never
// modeled with container/list, since a slab participates in a list it does
// not own.
type slab struct {
	prev, next *slab

	busy, total int

	base uintptr
	mem  []byte

	// small/pro-touch regime: head of the threaded freelist, living in the
	// free objects' own first word.
	freeSmall unsafe.Pointer

	// large/no-touch regime: freelist of external bufctl records.
	freeBufctl bufctl.FreelistHead
}

func listRemove(head **slab, s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else if *head == s {
		*head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
}

func listPushFront(head **slab, s *slab) {
	s.next = *head
	if *head != nil {
		(*head).prev = s
	}
	s.prev = nil
	*head = s
}

func roundUpPage(n, pageSize int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// regionSize is the number of arena bytes one slab occupies: exactly one
// page for the small regime (spec.md §4.2: "each slab is one page"), or the
// cache's configured import amount for the large/no-touch regime, which may
// span multiple pages since bufctls decouple object placement from the
// page grid.
func (c *Cache) regionSize() int {
	if c.small {
		return pageSize
	}
	return c.importAmt
}

// growSlab imports one new region from the arena and initializes it as an
// empty slab, pushed onto the empty list. Must be called with c.mu held.
// Returns false if the arena could not satisfy the request (spec.md §4.2
// cache_grow: "obtains memory from the arena with atomic semantics").
func (c *Cache) growSlab() bool {
	size := c.regionSize()
	addr, mem, ok := c.source.Alloc(size, atomicArenaFlags)
	if !ok {
		return false
	}

	s := &slab{base: addr, mem: mem}

	if c.small {
		s.total = int(uintptr(size) / c.objSize)
		if s.total == 0 {
			fatalf("kmem: cache %q: object size %d too large for a page-based slab", c.name, c.objSize)
		}
		var head unsafe.Pointer
		for i := s.total - 1; i >= 0; i-- {
			obj := unsafe.Pointer(addr + uintptr(i)*c.objSize)
			unsafeutil.StoreNextFree(obj, head)
			head = obj
		}
		s.freeSmall = head
		pageBase := addr &^ (uintptr(pageSize) - 1)
		c.pageIndex[pageBase] = s
	} else {
		s.total = size / int(c.objSize)
		for i := 0; i < s.total; i++ {
			bc := &bufctl.Bufctl{Addr: addr + uintptr(i)*c.objSize, Slab: s}
			s.freeBufctl.Push(bc)
		}
	}

	listPushFront(&c.emptyHead, s)
	c.nEmpty++
	return true
}

// allocFromSlabLocked obtains one raw object, growing the cache if
// necessary. Must be called with c.mu held (spec.md §4.2 alloc_from_slab:
// "under the cache lock"). The constructor is NOT run here — the caller
// runs it after releasing the lock, per spec.md §4.1.
func (c *Cache) allocFromSlabLocked() (unsafe.Pointer, bool) {
	s := c.partialHead
	fromEmpty := false
	if s == nil {
		if c.emptyHead == nil {
			if !c.growSlab() {
				return nil, false
			}
		}
		s = c.emptyHead
		fromEmpty = true
	}

	var obj unsafe.Pointer
	if c.small {
		obj = s.freeSmall
		s.freeSmall = unsafeutil.LoadNextFree(obj)
	} else {
		bc := s.freeBufctl.Pop()
		obj = unsafe.Pointer(bc.Addr)
		bucketsBefore := c.hash.Buckets()
		c.hash.Insert(bc)
		if c.hash.Buckets() != bucketsBefore {
			c.metrics.incHashResizes(c.name)
		}
	}
	s.busy++

	if fromEmpty {
		listRemove(&c.emptyHead, s)
		c.nEmpty--
		if s.busy == s.total {
			listPushFront(&c.fullHead, s)
			c.nFull++
		} else {
			listPushFront(&c.partialHead, s)
			c.nPartial++
		}
	} else if s.busy == s.total {
		listRemove(&c.partialHead, s)
		c.nPartial--
		listPushFront(&c.fullHead, s)
		c.nFull++
	}

	return obj, true
}

// freeToSlabLocked returns obj to its owning slab. Must be called with
// c.mu held. Destructors are not run here — spec.md §4.2 requires callers
// to ensure objects handed here are destructor-ready; pkg/kmem's fast-path
// adapters run the destructor immediately before calling this.
func (c *Cache) freeToSlabLocked(obj unsafe.Pointer) {
	var s *slab
	if c.small {
		pageBase := uintptr(obj) &^ (uintptr(pageSize) - 1)
		var ok bool
		s, ok = c.pageIndex[pageBase]
		if !ok {
			fatalf("kmem: cache %q: free of foreign address %#x", c.name, uintptr(obj))
		}
		unsafeutil.StoreNextFree(obj, s.freeSmall)
		s.freeSmall = obj
	} else {
		bc := c.hash.Lookup(uintptr(obj)) // panics on miss (double-free/foreign free)
		var ok bool
		s, ok = bc.Slab.(*slab)
		if !ok {
			fatalf("kmem: cache %q: bufctl for %#x has no owning slab", c.name, uintptr(obj))
		}
		s.freeBufctl.Push(bc)
	}

	wasFull := s.busy == s.total
	s.busy--

	switch {
	case wasFull:
		listRemove(&c.fullHead, s)
		c.nFull--
		if s.busy == 0 {
			listPushFront(&c.emptyHead, s)
			c.nEmpty++
		} else {
			listPushFront(&c.partialHead, s)
			c.nPartial++
		}
	case s.busy == 0:
		listRemove(&c.partialHead, s)
		c.nPartial--
		listPushFront(&c.emptyHead, s)
		c.nEmpty++
	}
}

// destroySlabRecord tears an already-empty, already-unlisted slab down:
// small regime returns the page directly; large regime walks the bufctl
// freelist for the lowest buffer address (the start of the arena import),
// drops every bufctl (ordinary Go values — the GC reclaims them; see
// bootstrap.go's rationale for why there is no separate kmem_bufctl slab
// pool to return them to), then frees the whole import.
func (c *Cache) destroySlabRecord(s *slab) {
	if c.small {
		pageBase := s.base &^ (uintptr(pageSize) - 1)
		delete(c.pageIndex, pageBase)
		c.source.Free(s.base, pageSize)
		return
	}

	lowest := s.base
	s.freeBufctl.Each(func(bc *bufctl.Bufctl) {
		if bc.Addr < lowest {
			lowest = bc.Addr
		}
	})
	for bc := s.freeBufctl.Pop(); bc != nil; bc = s.freeBufctl.Pop() {
		// Bufctl records are ordinary Go heap values; dropping the last
		// reference is how they return "to the bufctl cache" in this port.
		_ = bc
	}
	c.source.Free(lowest, c.importAmt)
}
