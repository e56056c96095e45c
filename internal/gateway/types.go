package gateway

import "time"

// Intent statuses shared by every adapter. Adapters translate provider
// vocabularies into exactly these values.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
	IntentFailed                IntentStatus = "failed"
)

type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	ChargeRefunded  ChargeStatus = "refunded"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

type CaptureMethod string

const (
	CaptureAutomatic CaptureMethod = "automatic"
	CaptureManual    CaptureMethod = "manual"
)

// Normalized result shapes. Amounts are integer minor units.

type Customer struct {
	ProviderCustomerID string
	Email              string
	Name               string
}

type Intent struct {
	ProviderIntentID string
	Status           IntentStatus
	AmountCents      int64
	Currency         string
	CaptureMethod    CaptureMethod
	ClientSecret     string
	NextActionURL    string // set when Status == requires_action
	Charge           *ChargeResult
	FailureCode      string
	FailureMessage   string
}

type ChargeResult struct {
	ProviderChargeID string
	ProviderIntentID string
	CustomerRef      string
	Status           ChargeStatus
	AmountCents      int64
	Currency         string
	ReceiptRef       string
	FailureReason    string
	CreatedAt        time.Time
}

type RefundResult struct {
	ProviderRefundID string
	ProviderChargeID string
	Status           RefundStatus
	AmountCents      int64
	Currency         string
}

type SetupIntent struct {
	ProviderSetupID string
	Status          IntentStatus
	ClientSecret    string
}

type Mandate struct {
	ProviderMandateID string
	Status            string // active|inactive|pending
	Scheme            string // e.g. sepa_debit, bacs
	Reference         string
}

type PaymentMethod struct {
	ProviderMethodID string
	Type             string // card, sepa_debit, ideal, ...
	Last4            string
	ExpMonth         int
	ExpYear          int
}

type Eligibility struct {
	Eligible bool
	Reason   string
}

type HealthStatus struct {
	Healthy   bool
	Detail    string
	CheckedAt time.Time
	Latency   time.Duration
}
