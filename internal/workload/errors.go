package workload

import "errors"

var (
	errZipfParams          = errors.New("workload: zipf distribution requires s > 1 and v > 0")
	errUnknownDistribution = errors.New("workload: unknown distribution")
)
