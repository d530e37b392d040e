package transport

import (
	"math/rand/v2"
	"time"
)

// Backoff controls the delay between reconnect attempts.
type Backoff struct {
	Base time.Duration // first delay (default 1s)
	Max  time.Duration // cap (default 30s)
}

// DefaultBackoff returns the reconnect schedule used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay computes min(base * 2^attempt, max) ± 25% jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt > 30 {
		attempt = 30
	}
	delay := b.Base << uint(attempt)
	if delay > b.Max || delay <= 0 {
		delay = b.Max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
