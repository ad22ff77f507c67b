package consistency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentileNearestRank(t *testing.T) {
	samples := []time.Duration{
		5 * time.Second, 1 * time.Second, 3 * time.Second, 2 * time.Second, 4 * time.Second,
	}

	require.Equal(t, 3*time.Second, percentile(samples, 0.5))
	require.Equal(t, 5*time.Second, percentile(samples, 0.95))
	require.Equal(t, 1*time.Second, percentile(samples, 0.01))
}

func TestPercentileEdgeCases(t *testing.T) {
	require.Equal(t, time.Duration(0), percentile(nil, 0.5))
	require.Equal(t, 7*time.Second, percentile([]time.Duration{7 * time.Second}, 0.5))

	// Input must not be reordered.
	samples := []time.Duration{9 * time.Second, 1 * time.Second}
	_ = percentile(samples, 0.5)
	require.Equal(t, 9*time.Second, samples[0])
}
