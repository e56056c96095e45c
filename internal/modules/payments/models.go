package payments

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentIntent struct {
	ID               string  `gorm:"type:char(36);primaryKey"`
	Provider         string  `gorm:"type:varchar(64);not null"`
	ProviderIntentID *string `gorm:"type:varchar(128);index:ix_payment_intents_provider_ref"`
	CustomerRef      string  `gorm:"type:varchar(128);index:ix_payment_intents_customer"`

	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`

	Status             string `gorm:"type:varchar(32);not null;index:ix_payment_intents_status"`
	CaptureMethod      string `gorm:"type:varchar(16);not null"`
	ConfirmationMethod string `gorm:"type:varchar(16);not null"`

	PaymentMethodType string `gorm:"type:varchar(32)"`
	Country           string `gorm:"type:char(2)"`

	IdempotencyKey string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_intents_idem_key"`
	Metadata       datatypes.JSON `gorm:"type:json"`

	ErrorMessage *string   `gorm:"type:varchar(255)"`
	CreatedAt    time.Time `gorm:"type:datetime;not null"`
	UpdatedAt    time.Time `gorm:"type:datetime;not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

type Charge struct {
	ID               string `gorm:"type:char(36);primaryKey"`
	IntentID         string `gorm:"type:char(36);not null;index:ix_charges_intent_id"`
	Provider         string `gorm:"type:varchar(64);not null"`
	ProviderChargeID string `gorm:"type:varchar(128);not null;uniqueIndex:ux_charges_provider_charge"`
	CustomerRef      string `gorm:"type:varchar(128);index:ix_charges_customer"`

	Status      string `gorm:"type:varchar(32);not null"`
	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`

	ReceiptRef    *string `gorm:"type:varchar(255)"`
	FailureReason *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"type:datetime;not null;index:ix_charges_created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`
}

func (Charge) TableName() string { return "charges" }

type Refund struct {
	ID               string  `gorm:"type:char(36);primaryKey"`
	ChargeID         string  `gorm:"type:char(36);not null;index:ix_refunds_charge_id;uniqueIndex:ux_refunds_charge_idem,priority:1"`
	Provider         string  `gorm:"type:varchar(64);not null"`
	ProviderRefundID *string `gorm:"type:varchar(128);uniqueIndex:ux_refunds_provider_refund"`

	Status      string `gorm:"type:varchar(32);not null"`
	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`

	IdempotencyKey string  `gorm:"type:varchar(64);not null;uniqueIndex:ux_refunds_charge_idem,priority:2"`
	Reason         *string `gorm:"type:varchar(255)"`
	ErrorMessage   *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"type:datetime;not null"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`
}

func (Refund) TableName() string { return "refunds" }

// IntentStatusEvent is the append-only status history of an intent.
type IntentStatusEvent struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	IntentID   string    `gorm:"type:char(36);not null;index:ix_intent_status_events_intent"`
	FromStatus string    `gorm:"type:varchar(32);not null"`
	ToStatus   string    `gorm:"type:varchar(32);not null"`
	Note       *string   `gorm:"type:varchar(255)"`
	CreatedAt  time.Time `gorm:"type:datetime;not null"`
}

func (IntentStatusEvent) TableName() string { return "intent_status_events" }
