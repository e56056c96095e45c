package config

import (
	"os"
	"strconv"
	"time"

	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
)

type WebhookSettings struct {
	Engine        webhooks.Config
	PollInterval  time.Duration
	RetentionDays int
}

// WebhookFromEnv reads the retry-engine knobs.
//
//	WEBHOOK_MAX_RETRIES          default 5
//	WEBHOOK_INITIAL_DELAY        seconds, default 1.0
//	WEBHOOK_MAX_DELAY            seconds, default 300
//	WEBHOOK_BACKOFF_MULTIPLIER   default 2.0
//	WEBHOOK_JITTER_FACTOR        default 0.1
//	WEBHOOK_CONCURRENCY          default 4
//	WEBHOOK_POLL_INTERVAL        seconds, default 30
//	WEBHOOK_RETENTION_DAYS       default 30
func WebhookFromEnv() WebhookSettings {
	return WebhookSettings{
		Engine: webhooks.Config{
			MaxRetries: envInt("WEBHOOK_MAX_RETRIES", 5),
			Backoff: webhooks.BackoffConfig{
				InitialDelay: envSeconds("WEBHOOK_INITIAL_DELAY", 1.0),
				MaxDelay:     envSeconds("WEBHOOK_MAX_DELAY", 300),
				Multiplier:   envFloat("WEBHOOK_BACKOFF_MULTIPLIER", 2.0),
				JitterFactor: envFloat("WEBHOOK_JITTER_FACTOR", 0.1),
			},
			Concurrency: envInt("WEBHOOK_CONCURRENCY", 4),
		},
		PollInterval:  envSeconds("WEBHOOK_POLL_INTERVAL", 30),
		RetentionDays: envInt("WEBHOOK_RETENTION_DAYS", 30),
	}
}

// ReconcileFromEnv reads the anomaly-detection knobs.
//
//	ANOMALY_STD_DEV_MULTIPLIER     default 2.0
//	RAPID_PAYMENT_WINDOW_MINUTES   default 60
//	RAPID_PAYMENT_COUNT            default 5
//	FAILURE_CLUSTER_COUNT          default 3
func ReconcileFromEnv() reconcile.Config {
	return reconcile.Config{
		StdDevMultiplier:    envFloat("ANOMALY_STD_DEV_MULTIPLIER", 2.0),
		RapidWindow:         time.Duration(envInt("RAPID_PAYMENT_WINDOW_MINUTES", 60)) * time.Minute,
		RapidCount:          envInt("RAPID_PAYMENT_COUNT", 5),
		FailureClusterCount: envInt("FAILURE_CLUSTER_COUNT", 3),
	}
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envSeconds(k string, def float64) time.Duration {
	return time.Duration(envFloat(k, def) * float64(time.Second))
}
