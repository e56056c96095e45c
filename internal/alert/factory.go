package alert

import (
	"os"
	"strings"
)

// FromEnv builds the configured notifier. ALERT_DRIVER=none (default)
// returns nil, which callers treat as alerting disabled.
func FromEnv() (Notifier, error) {
	switch driver := envOr("ALERT_DRIVER", "none"); driver {
	case "none":
		return nil, nil
	case "smtp":
		to := []string{}
		for _, addr := range strings.Split(os.Getenv("ALERT_TO"), ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		return NewSMTPNotifier(SMTPConfig{
			Host:    envOr("SMTP_HOST", "localhost"),
			Port:    envOr("SMTP_PORT", "25"),
			User:    os.Getenv("SMTP_USER"),
			Pass:    os.Getenv("SMTP_PASS"),
			TLSMode: os.Getenv("SMTP_TLS_MODE"),
			From:    envOr("ALERT_FROM", "alerts@localhost"),
			To:      to,
		}), nil
	default:
		return nil, &UnknownDriverError{Driver: driver}
	}
}

type UnknownDriverError struct{ Driver string }

func (e *UnknownDriverError) Error() string { return "unknown ALERT_DRIVER: " + e.Driver }

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
