// Package workload generates the alloc/free batch sizes cmd/slabctl's stress
// subcommand drives a cache with. Adapted from the teacher's
// tools/dataset_gen key-dataset generator: that tool emitted uniform- or
// Zipf-distributed uint64 key streams for offline load-test replay; here the
// same two distributions instead pick how many objects a stress worker
// allocates before freeing them back, so a "zipf" run concentrates most
// bursts at a small size with an occasional large spike — a closer analogue
// of real contention bursts than a constant batch size.
//
// © 2025 kmemslab authors. MIT License.
package workload

import "math/rand"

// Distribution names a batch-size generator shape.
type Distribution string

const (
	Uniform Distribution = "uniform"
	Zipf    Distribution = "zipf"
)

// BurstSizer produces a sequence of alloc-batch sizes in [1, max].
type BurstSizer struct {
	max int
	gen func() uint64
}

// NewBurstSizer constructs a sizer. zipfS must be >1 and zipfV >0 when dist
// is Zipf, mirroring the teacher's dataset_gen flag validation.
func NewBurstSizer(seed int64, dist Distribution, max int, zipfS, zipfV float64) (*BurstSizer, error) {
	if max <= 0 {
		max = 1
	}
	rnd := rand.New(rand.NewSource(seed))

	switch dist {
	case Uniform, "":
		return &BurstSizer{max: max, gen: rnd.Uint64}, nil
	case Zipf:
		if zipfS <= 1.0 || zipfV <= 0 {
			return nil, errZipfParams
		}
		z := rand.NewZipf(rnd, zipfS, zipfV, ^uint64(0))
		return &BurstSizer{max: max, gen: z.Uint64}, nil
	default:
		return nil, errUnknownDistribution
	}
}

// Next returns the next batch size, in [1, max].
func (b *BurstSizer) Next() int {
	return int(b.gen()%uint64(b.max)) + 1
}
