// Package bench provides reproducible micro-benchmarks for pkg/kmem. Run via:
//
//	go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. Alloc        – alloc/free pairs on one goroutine, warmed cache (LIFO hits)
//  2. Free          – free-only workload into a warm per-CPU magazine
//  3. AllocFreeParallel – highly concurrent alloc/free pairs (b.RunParallel)
//  4. Contention    – GOMAXPROCS goroutines hammering one cache, to watch
//     depot.magsize grow under sustained contention (spec.md §8 scenario 6)
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live in pkg/kmem; this file is only for performance.
//
// © 2025 kmemslab authors. MIT License.
package bench

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/voskan/kmemslab/internal/arena"
	"github.com/voskan/kmemslab/pkg/kmem"
)

type value64 struct {
	_ [64]byte
}

func newBenchCache(b *testing.B) *kmem.Cache {
	b.Helper()
	base := arena.NewPageArena(4096)
	bump := arena.NewBumpArena(base, 4<<20, 4096)
	res, err := kmem.Create("bench-value64", int(unsafe.Sizeof(value64{})), 8, kmem.FlagNone, bump, nil, nil, nil)
	if err != nil {
		b.Fatalf("kmem.Create: %v", err)
	}
	return res.Cache
}

func BenchmarkAlloc(b *testing.B) {
	c := newBenchCache(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj, err := c.Alloc(kmem.AllocAtomic)
		if err != nil || obj == nil {
			b.Fatalf("alloc failed at i=%d: %v", i, err)
		}
		c.Free(obj)
	}
}

func BenchmarkFree(b *testing.B) {
	c := newBenchCache(b)
	objs := make([]unsafe.Pointer, b.N)
	for i := range objs {
		obj, err := c.Alloc(kmem.AllocAtomic)
		if err != nil || obj == nil {
			b.Fatalf("warm-up alloc failed at i=%d: %v", i, err)
		}
		objs[i] = obj
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Free(objs[i])
	}
}

func BenchmarkAllocFreeParallel(b *testing.B) {
	c := newBenchCache(b)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			obj, err := c.Alloc(kmem.AllocAtomic)
			if err != nil || obj == nil {
				b.Fatalf("alloc failed: %v", err)
			}
			c.Free(obj)
		}
	})
}

// BenchmarkContention matches spec.md §8 scenario 6: GOMAXPROCS goroutines
// hammering one cache, reporting the depot's converged magsize as a custom
// metric so a benchstat diff shows whether contention-driven resize kicked
// in at all.
func BenchmarkContention(b *testing.B) {
	c := newBenchCache(b)
	b.ReportAllocs()
	b.SetParallelism(runtime.GOMAXPROCS(0))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			obj, err := c.Alloc(kmem.AllocAtomic)
			if err != nil || obj == nil {
				b.Fatalf("alloc failed: %v", err)
			}
			c.Free(obj)
		}
	})
	var maxMagsize int
	for _, p := range c.PerCPUStats() {
		if p.Magsize > maxMagsize {
			maxMagsize = p.Magsize
		}
	}
	b.ReportMetric(float64(maxMagsize), "magsize")
}
