package workload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUniformBurstSizerStaysInRange(t *testing.T) {
	b, err := NewBurstSizer(1, Uniform, 16, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		n := b.Next()
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 16)
	}
}

func TestZipfBurstSizerStaysInRange(t *testing.T) {
	b, err := NewBurstSizer(1, Zipf, 16, 1.2, 1.0)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		n := b.Next()
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 16)
	}
}

func TestZipfRejectsInvalidParams(t *testing.T) {
	_, err := NewBurstSizer(1, Zipf, 16, 0.5, 1.0)
	require.Error(t, err)
}

func TestUnknownDistributionRejected(t *testing.T) {
	_, err := NewBurstSizer(1, "bogus", 16, 0, 0)
	require.Error(t, err)
}
