//go:build !debug

package magazine

// txnAssert is the zero-cost release-build stand-in for assert_debug.go's
// state-transition guard: every method is a no-op the compiler inlines
// away, so release builds pay nothing for a testing-only invariant.
type txnAssert struct{}

func (t *txnAssert) reset()              {}
func (t *txnAssert) recordDepotAcquire() {}
func (t *txnAssert) recordSlabFallback() {}
