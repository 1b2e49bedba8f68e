//go:build debug

package magazine

// txnAssert checks spec.md §4.4's conceptual state bound — within one
// attempt at the loaded/previous/depot fast path, a call never acquires
// the depot lock more than once, and never falls through to the slab layer
// more than once. "One attempt" resets at the top of Free's outer retry
// loop: allocating a fresh magazine from the magazine cache and retrying is
// a new attempt, not a repeat of the same one (see FastPath.Free).
//
// Only compiled into debug builds (`-tags debug`); assert_release.go
// supplies a zero-cost no-op otherwise.
type txnAssert struct {
	depotAcquires int
	slabFallbacks int
}

func (t *txnAssert) reset() {
	t.depotAcquires = 0
	t.slabFallbacks = 0
}

func (t *txnAssert) recordDepotAcquire() {
	t.depotAcquires++
	if t.depotAcquires > 1 {
		panic("magazine: more than one depot acquisition in a single alloc/free attempt")
	}
}

func (t *txnAssert) recordSlabFallback() {
	t.slabFallbacks++
	if t.slabFallbacks > 1 {
		panic("magazine: more than one slab-layer fallback in a single alloc/free attempt")
	}
}
