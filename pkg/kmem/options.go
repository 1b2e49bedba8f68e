package kmem

// options.go defines the functional-option pattern this package exposes,
// generalized from pkg/config.go's `type Option[K,V] func(*config[K,V])`
// shape to a non-generic Option: object caches here are untyped byte
// regions, not generic K/V pairs, so there is no type parameter to thread
// through.
//
// Design notes (same as the teacher's):
//   - All fields are initialized with sensible defaults in defaultConfig().
//   - Options never allocate unless strictly necessary.
//   - The config struct itself stays unexported; callers only influence
//     behavior through Option values.
//
// © 2025 kmemslab authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voskan/kmemslab/internal/magazine"
	"github.com/voskan/kmemslab/internal/reapjournal"
)

// defaultNumPerSlab mirrors slab.c's NUM_PER_SLAB tunable for non-qcache,
// non-large caches.
const defaultNumPerSlab = 8

type config struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	minMagazine     int
	maxMagazine     int
	resizeTimeout   time.Duration
	resizeThreshold uint

	numPerSlab int
	journal    *reapjournal.Journal
}

// Option is the functional option passed to Create.
type Option func(*config)

func defaultConfig() *config {
	return &config{
		logger:          zap.NewNop(),
		registry:        nil, // user must opt in to metrics
		minMagazine:     magazine.DefaultMinMagazine,
		maxMagazine:     magazine.DefaultMaxMagazine,
		resizeTimeout:   magazine.DefaultResizeTimeout,
		resizeThreshold: magazine.DefaultResizeThreshold,
		numPerSlab:      defaultNumPerSlab,
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the
// fast path; only slow events (create/destroy, slab growth failure,
// constructor rejection, reap) are emitted. Hash-index growth and depot
// magazine-size growth are not logged.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the cache. Passing
// nil disables metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithMinMagazine overrides the depot's minimum magazine capacity
// (slab.c's KMC_MAG_MIN_SZ).
func WithMinMagazine(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.minMagazine = n
		}
	}
}

// WithMaxMagazine overrides the depot's maximum magazine capacity
// (slab.c's KMC_MAG_MAX_SZ).
func WithMaxMagazine(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxMagazine = n
		}
	}
}

// WithNumPerSlab overrides the tunable used to size a non-qcache,
// non-large-regime cache's import amount (spec.md §4.1).
func WithNumPerSlab(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.numPerSlab = n
		}
	}
}

// WithReapJournal attaches a durable reap/destroy event log. Nil (the
// default) means no journaling, matching the teacher's "nil registry means
// metrics are off" opt-in pattern.
func WithReapJournal(j *reapjournal.Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// applyOptions copies user-supplied options into cfg and validates
// invariants, mirroring pkg/config.go's applyOptions.
func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.numPerSlab <= 0 {
		return errInvalidNumPerSlab
	}
	if cfg.minMagazine <= 0 || cfg.minMagazine > cfg.maxMagazine {
		return errInvalidMagazineBounds
	}
	return nil
}
