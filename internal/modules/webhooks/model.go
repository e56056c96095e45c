package webhooks

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusRetrying   = "retrying"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
)

// WebhookEvent persists a provider notification until the retry engine
// drives it to success or dead-letter. Raw payload is kept verbatim; the
// normalized fields are what the dispatcher replays from.
type WebhookEvent struct {
	ID       string `gorm:"type:char(36);primaryKey"`
	Provider string `gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID  string `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`

	EventType string         `gorm:"type:varchar(64);not null"`
	Payload   datatypes.JSON `gorm:"type:json;not null"`

	IntentRef   string `gorm:"type:varchar(128)"`
	ChargeRef   string `gorm:"type:varchar(128)"`
	RefundRef   string `gorm:"type:varchar(128)"`
	AmountCents int64
	Currency    string `gorm:"type:char(3)"`
	Reason      string `gorm:"type:varchar(255)"`

	ProcessingStatus string     `gorm:"type:varchar(16);not null;index:ix_webhook_events_status"`
	RetryCount       int        `gorm:"not null;default:0"`
	LastRetryAt      *time.Time `gorm:"type:datetime"`
	NextRetryAt      *time.Time `gorm:"type:datetime;index:ix_webhook_events_next_retry"`
	ErrorMessage     *string    `gorm:"type:varchar(255)"`
	ProcessedAt      *time.Time `gorm:"type:datetime"`

	CreatedAt time.Time `gorm:"type:datetime;not null"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
