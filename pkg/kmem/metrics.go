package kmem

// metrics.go is a thin abstraction over Prometheus, the same shape as the
// teacher's pkg/metrics.go: a metricsSink interface with a noop and a
// Prometheus-backed implementation, selected by whether the caller passed a
// *prometheus.Registry via WithMetrics. The fast path (per-CPU alloc/free)
// never touches this; only the slab-layer slow path and depot/hash resize
// events update metrics.
//
// ┌──────────────────────────────┬───────┬──────────────────┐
// │ Metric                       │ Type  │ Labels            │
// ├───────────────────────────────┼───────┼──────────────────┤
// │ kmem_cache_objects_allocated_total │ Ctr │ cache        │
// │ kmem_cache_slabs              │ Gge   │ cache, state      │
// │ kmem_depot_magazines          │ Gge   │ cache, state      │
// │ kmem_depot_magsize            │ Gge   │ cache             │
// │ kmem_depot_contention_total   │ Ctr   │ cache             │
// │ kmem_hash_resizes_total       │ Ctr   │ cache             │
// │ kmem_reap_slabs_total         │ Ctr   │ cache             │
// └───────────────────────────────┴───────┴──────────────────┘
//
// © 2025 kmemslab authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incObjectsAllocated(cache string)
	setSlabCounts(cache string, full, partial, empty int)
	setDepotMagazines(cache string, notEmpty, empty int)
	setDepotMagsize(cache string, magsize int)
	addDepotContention(cache string, n uint64)
	incHashResizes(cache string)
	incReapSlabs(cache string, n int)
}

/* ---------------- No-op implementation ---------------- */

type noopMetrics struct{}

func (noopMetrics) incObjectsAllocated(string)            {}
func (noopMetrics) setSlabCounts(string, int, int, int)   {}
func (noopMetrics) setDepotMagazines(string, int, int)    {}
func (noopMetrics) setDepotMagsize(string, int)           {}
func (noopMetrics) addDepotContention(string, uint64)     {}
func (noopMetrics) incHashResizes(string)                 {}
func (noopMetrics) incReapSlabs(string, int)              {}

/* ---------------- Prometheus implementation ---------------- */

type promMetrics struct {
	objectsAllocated *prometheus.CounterVec
	slabs            *prometheus.GaugeVec
	depotMagazines   *prometheus.GaugeVec
	depotMagsize     *prometheus.GaugeVec
	depotContention  *prometheus.CounterVec
	hashResizes      *prometheus.CounterVec
	reapSlabs        *prometheus.CounterVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	cacheLabel := []string{"cache"}
	stateLabel := []string{"cache", "state"}

	pm := &promMetrics{
		objectsAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kmem", Name: "cache_objects_allocated_total",
			Help: "Number of objects successfully allocated from this cache's slab layer.",
		}, cacheLabel),
		slabs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kmem", Name: "cache_slabs",
			Help: "Number of slabs per list (full, partial, empty).",
		}, stateLabel),
		depotMagazines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kmem", Name: "depot_magazines",
			Help: "Number of magazines held by the depot per list (not_empty, empty).",
		}, stateLabel),
		depotMagsize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kmem", Name: "depot_magsize",
			Help: "Current depot magazine logical capacity.",
		}, cacheLabel),
		depotContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kmem", Name: "depot_contention_total",
			Help: "Number of contended depot lock acquisitions.",
		}, cacheLabel),
		hashResizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kmem", Name: "hash_resizes_total",
			Help: "Number of bufctl hash index growths.",
		}, cacheLabel),
		reapSlabs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kmem", Name: "reap_slabs_total",
			Help: "Number of empty slabs destroyed by Reap.",
		}, cacheLabel),
	}

	reg.MustRegister(pm.objectsAllocated, pm.slabs, pm.depotMagazines, pm.depotMagsize, pm.depotContention, pm.hashResizes, pm.reapSlabs)
	return pm
}

func (m *promMetrics) incObjectsAllocated(cache string) {
	m.objectsAllocated.WithLabelValues(cache).Inc()
}

func (m *promMetrics) setSlabCounts(cache string, full, partial, empty int) {
	m.slabs.WithLabelValues(cache, "full").Set(float64(full))
	m.slabs.WithLabelValues(cache, "partial").Set(float64(partial))
	m.slabs.WithLabelValues(cache, "empty").Set(float64(empty))
}

func (m *promMetrics) setDepotMagazines(cache string, notEmpty, empty int) {
	m.depotMagazines.WithLabelValues(cache, "not_empty").Set(float64(notEmpty))
	m.depotMagazines.WithLabelValues(cache, "empty").Set(float64(empty))
}

func (m *promMetrics) setDepotMagsize(cache string, magsize int) {
	m.depotMagsize.WithLabelValues(cache).Set(float64(magsize))
}

func (m *promMetrics) addDepotContention(cache string, n uint64) {
	if n == 0 {
		return
	}
	m.depotContention.WithLabelValues(cache).Add(float64(n))
}

func (m *promMetrics) incHashResizes(cache string) {
	m.hashResizes.WithLabelValues(cache).Inc()
}

func (m *promMetrics) incReapSlabs(cache string, n int) {
	if n <= 0 {
		return
	}
	m.reapSlabs.WithLabelValues(cache).Add(float64(n))
}

/* ---------------- Factory ---------------- */

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
