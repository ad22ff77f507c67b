package outbox

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before retry number attempt (0-based),
// capped exponential with full jitter in [d/2, d]. Jitter spreads retries
// out when a derived store comes back after an outage.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 5 * time.Minute
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
