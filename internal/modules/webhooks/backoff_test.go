package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesWithoutJitter(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0,
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, cfg.Delay(i+1), "attempt %d", i+1)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0,
	}

	// 2^9 = 512s would exceed the cap
	assert.Equal(t, 300*time.Second, cfg.Delay(10))
	assert.Equal(t, 300*time.Second, cfg.Delay(50))
}

func TestDelayJitterStaysInBounds(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}

	for i := 0; i < 200; i++ {
		d := cfg.Delay(3) // base 4s, jitter ±400ms
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestDelayNeverBelowFloor(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
		JitterFactor: 1.0,
	}

	for i := 0; i < 200; i++ {
		assert.GreaterOrEqual(t, cfg.Delay(1), 100*time.Millisecond)
	}
}

func TestDelayClampsAttemptBelowOne(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	assert.Equal(t, cfg.Delay(1), cfg.Delay(0))
	assert.Equal(t, cfg.Delay(1), cfg.Delay(-3))
}
