package socket

import (
	"math"
	"math/rand"
	"time"

	"github.com/kleeedolinux/actionsocket/internal/sync"
)

// backoff yields exponentially growing reconnection delays between min and max.
type backoff struct {
	min    time.Duration
	max    time.Duration
	factor float64
	jitter float64

	mu       sync.Mutex
	attempts int
}

func newBackoff(min, max time.Duration, jitter float64) *backoff {
	if jitter < 0 || jitter > 1 {
		jitter = 0
	}
	if max < min {
		max = min
	}
	return &backoff{
		min:    min,
		max:    max,
		factor: 2,
		jitter: jitter,
	}
}

func (b *backoff) duration() time.Duration {
	b.mu.Lock()
	d := float64(b.min) * math.Pow(b.factor, float64(b.attempts))
	b.attempts++
	b.mu.Unlock()

	if b.jitter > 0 {
		r := rand.Float64()
		deviation := math.Floor(r * b.jitter * d)
		if int(math.Floor(r*10))&1 == 0 {
			d -= deviation
		} else {
			d += deviation
		}
	}
	if d <= 0 || d > float64(b.max) || math.IsInf(d, 0) {
		return b.max
	}
	return time.Duration(d)
}

func (b *backoff) reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
