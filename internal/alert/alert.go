package alert

import "context"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator notification. Alerts inform; they never remediate.
type Alert struct {
	Severity Severity
	Subject  string
	Body     string
	Tags     map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
