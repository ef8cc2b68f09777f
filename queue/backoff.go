package queue

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the retry delay after a transient failure. The delay
// grows exponentially with the attempt count, capped, with jitter to
// spread retries from correlated failures (a gateway outage fails many
// submissions at once).
type Backoff struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Cap bounds the delay regardless of attempt count.
	Cap time.Duration

	// Multiplier scales the delay per additional attempt.
	Multiplier float64

	// Jitter is the fraction of the delay randomized in both
	// directions (0.2 means ±20%).
	Jitter float64

	// rand returns a uniform value in [0, 1). Overridable in tests.
	rand func() float64
}

// DefaultBackoff returns the production schedule: 30s base, doubling,
// capped at 1h, ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       30 * time.Second,
		Cap:        time.Hour,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay returns the delay before the given retry. attempt is the number
// of attempts already made, so the first retry passes 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Cap) {
			d = float64(b.Cap)
			break
		}
	}
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		// Uniform in [1-Jitter, 1+Jitter).
		d *= 1 - b.Jitter + 2*b.Jitter*r()
	}

	return time.Duration(d)
}

// NextAttempt returns the wall-clock time of the next attempt.
func (b Backoff) NextAttempt(now time.Time, attempt int) time.Time {
	return now.Add(b.Delay(attempt))
}
