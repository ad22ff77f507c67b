package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsAndStaysWithinBounds(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 5 * time.Minute

	for attempt := 0; attempt < 12; attempt++ {
		ceiling := base << attempt
		if ceiling > cap || ceiling <= 0 {
			ceiling = cap
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt, base, cap)
			require.GreaterOrEqual(t, d, ceiling/2, "attempt %d", attempt)
			require.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
		}
	}
}

func TestBackoffCapsAtMaximum(t *testing.T) {
	d := backoffDelay(100, time.Second, time.Minute)
	require.LessOrEqual(t, d, time.Minute)
	require.GreaterOrEqual(t, d, 30*time.Second)
}

func TestBackoffDefaultsForZeroConfig(t *testing.T) {
	d := backoffDelay(0, 0, 0)
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 5*time.Minute)
}
