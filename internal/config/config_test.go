package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWebhookFromEnvDefaults(t *testing.T) {
	s := WebhookFromEnv()

	assert.Equal(t, 5, s.Engine.MaxRetries)
	assert.Equal(t, time.Second, s.Engine.Backoff.InitialDelay)
	assert.Equal(t, 300*time.Second, s.Engine.Backoff.MaxDelay)
	assert.Equal(t, 2.0, s.Engine.Backoff.Multiplier)
	assert.Equal(t, 0.1, s.Engine.Backoff.JitterFactor)
	assert.Equal(t, 4, s.Engine.Concurrency)
	assert.Equal(t, 30*time.Second, s.PollInterval)
	assert.Equal(t, 30, s.RetentionDays)
}

func TestWebhookFromEnvOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_MAX_RETRIES", "3")
	t.Setenv("WEBHOOK_INITIAL_DELAY", "0.5")
	t.Setenv("WEBHOOK_MAX_DELAY", "60")
	t.Setenv("WEBHOOK_BACKOFF_MULTIPLIER", "3.0")
	t.Setenv("WEBHOOK_JITTER_FACTOR", "0")
	t.Setenv("WEBHOOK_POLL_INTERVAL", "5")

	s := WebhookFromEnv()
	assert.Equal(t, 3, s.Engine.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, s.Engine.Backoff.InitialDelay)
	assert.Equal(t, time.Minute, s.Engine.Backoff.MaxDelay)
	assert.Equal(t, 3.0, s.Engine.Backoff.Multiplier)
	assert.Equal(t, 0.0, s.Engine.Backoff.JitterFactor)
	assert.Equal(t, 5*time.Second, s.PollInterval)
}

func TestWebhookFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("WEBHOOK_MAX_RETRIES", "many")
	t.Setenv("WEBHOOK_INITIAL_DELAY", "soon")

	s := WebhookFromEnv()
	assert.Equal(t, 5, s.Engine.MaxRetries)
	assert.Equal(t, time.Second, s.Engine.Backoff.InitialDelay)
}

func TestReconcileFromEnv(t *testing.T) {
	c := ReconcileFromEnv()
	assert.Equal(t, 2.0, c.StdDevMultiplier)
	assert.Equal(t, time.Hour, c.RapidWindow)
	assert.Equal(t, 5, c.RapidCount)
	assert.Equal(t, 3, c.FailureClusterCount)

	t.Setenv("ANOMALY_STD_DEV_MULTIPLIER", "3.5")
	t.Setenv("RAPID_PAYMENT_WINDOW_MINUTES", "30")
	c = ReconcileFromEnv()
	assert.Equal(t, 3.5, c.StdDevMultiplier)
	assert.Equal(t, 30*time.Minute, c.RapidWindow)
}
