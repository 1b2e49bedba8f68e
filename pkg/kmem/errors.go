package kmem

// errors.go collects the sentinel errors and the fatal-abort helper spec.md
// §7's error taxonomy calls for: recoverable conditions are plain sentinel
// errors (mirrors pkg/config.go's errInvalid* from the teacher), while
// InvariantViolation conditions panic with a formatted message, directly
// modeled on slab.c's panic("...")/warn("...") call sites (e.g. "Could not
// find buf %p in cache %s!").
//
// © 2025 kmemslab authors. MIT License.

import (
	"errors"
	"fmt"
)

var (
	errInvalidObjectSize    = errors.New("kmem: object size must be > 0")
	errInvalidNumPerSlab    = errors.New("kmem: num-per-slab must be > 0")
	errInvalidMagazineBounds = errors.New("kmem: min magazine size must be > 0 and <= max magazine size")

	// ErrOutOfMemory is returned by Alloc when the caller requested
	// AllocError and the slab layer could not supply an object: the arena
	// could not satisfy a growth request (spec.md §7 OutOfMemory), or the
	// constructor rejected the object. Alloc does not distinguish the two.
	ErrOutOfMemory = errors.New("kmem: arena exhausted")
	// ErrAlreadyDestroyed guards against double-destroy of a Cache.
	ErrAlreadyDestroyed = errors.New("kmem: cache already destroyed")
)

// fatalf panics with a formatted message. Used for spec.md §7's
// InvariantViolation class (destroy with non-empty full/partial lists, a
// small-regime free of a foreign address, alignment exceeding the page size
// at creation) and for an allocation failure when neither AllocAtomic nor
// AllocError was requested. A large-regime free of an address absent from
// the hash index panics inside bufctl.HashIndex.Lookup instead. These are
// unrecoverable by design — the source terminates the kernel; here we panic
// the goroutine.
func fatalf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
