package webhooks

import (
	"math"
	"math/rand"
	"time"
)

const minDelay = 100 * time.Millisecond

type BackoffConfig struct {
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 300s
	Multiplier   float64       // default 2.0
	JitterFactor float64       // default 0.1, 0 disables jitter
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Delay computes the wait before the given attempt (1-based):
// min(initial * multiplier^(attempt-1), max), widened by a uniform
// ±delay*jitter, floored at 100ms so storms stay spread out without
// collapsing to zero.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	if c.JitterFactor > 0 {
		spread := d * c.JitterFactor
		d += (rand.Float64()*2 - 1) * spread
	}
	if d < float64(minDelay) {
		d = float64(minDelay)
	}
	return time.Duration(d)
}
