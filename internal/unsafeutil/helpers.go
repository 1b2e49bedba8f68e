// Package unsafeutil centralises every unavoidable use of the standard
// `unsafe` package so that the allocator's other packages stay auditable.
// Every helper documents its pre- and post-conditions.
//
// ⚠️  DISCLAIMER  These helpers deliberately step outside Go's memory-safety
// model: they are how the slab layer threads a freelist through free objects.
// Use only inside this repository.
//
// © 2025 kmemslab authors. MIT License.
package unsafeutil

import (
	"unsafe"
)

/* -------------------------------------------------------------------------
   1. Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align, which must be a
// power of two.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x has exactly one bit set.
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}

// RoundUpPow2 returns the smallest power of two >= x. Used to size qcache
// imports (spec: import_amt = round_up_pow2(3 * source.qcache_max)).
func RoundUpPow2(x uintptr) uintptr {
	if x == 0 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

/* -------------------------------------------------------------------------
   2. Pointer / slice views
   ------------------------------------------------------------------------- */

// PtrSlice converts ptr+n into a []T without copying. The backing memory
// must outlive the returned slice; callers own that guarantee.
func PtrSlice[T any](ptr *T, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice(ptr, n)
}

// ByteSliceFrom returns a []byte view of raw memory starting at ptr with the
// given length. Caller must ensure the block is at least length bytes.
func ByteSliceFrom(ptr unsafe.Pointer, length uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

/* -------------------------------------------------------------------------
   3. Threaded freelist access (small/pro-touch regime only)
   ------------------------------------------------------------------------- */

// LoadNextFree reads the pointer stored in the first word of a free object.
// In the small regime a free object's own first word holds the address of
// the next free object; this is that read.
func LoadNextFree(obj unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(obj)
}

// StoreNextFree writes next into the first word of obj. The object must be
// at least pointer-sized; the cache façade enforces this at creation.
func StoreNextFree(obj unsafe.Pointer, next unsafe.Pointer) {
	*(*unsafe.Pointer)(obj) = next
}
