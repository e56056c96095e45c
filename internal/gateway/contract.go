package gateway

import (
	"context"
	"net/http"
	"time"
)

type CreateCustomerRequest struct {
	Email          string
	Name           string
	Country        string
	IdempotencyKey string
}

type CreateIntentRequest struct {
	AmountCents        int64  // minor units, > 0
	Currency           string // ISO-4217, lower or upper case accepted
	CustomerRef        string
	PaymentMethodType  string // card, sepa_debit, ...
	Country            string // ISO-3166 alpha-2
	CaptureMethod      CaptureMethod
	ConfirmationMethod string
	IdempotencyKey     string
	Metadata           map[string]string
}

type ConfirmIntentRequest struct {
	ProviderIntentID string
	PaymentMethodRef string
	ReturnURL        string
	IdempotencyKey   string
}

type CaptureIntentRequest struct {
	ProviderIntentID string
	AmountCents      int64 // 0 => full authorized amount
	IdempotencyKey   string
}

type CreateRefundRequest struct {
	ProviderChargeID string
	AmountCents      int64 // 0 => full charge
	Reason           string
	IdempotencyKey   string
}

type CreateSetupIntentRequest struct {
	CustomerRef       string
	PaymentMethodType string
	IdempotencyKey    string
}

type CreateMandateRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	Scheme           string
	IdempotencyKey   string
}

type EligibilityRequest struct {
	PaymentMethodType string
	Country           string
	Currency          string
	AmountCents       int64
}

type CreatePaymentMethodRequest struct {
	CustomerRef string
	Type        string
	Token       string // tokenized instrument from the client side
}

// ChargeQuery bounds the provider-side charge listing used by reconciliation.
type ChargeQuery struct {
	Start time.Time
	End   time.Time
	Limit int
}

// Gateway is the capability contract every provider adapter implements.
// All calls are one network round-trip; failures are *GatewayError.
type Gateway interface {
	Name() string

	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	ConfirmPaymentIntent(ctx context.Context, req ConfirmIntentRequest) (Intent, error)
	CapturePaymentIntent(ctx context.Context, req CaptureIntentRequest) (Intent, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (RefundResult, error)
	GetPaymentIntent(ctx context.Context, providerIntentID string) (Intent, error)
	GetCharge(ctx context.Context, providerChargeID string) (ChargeResult, error)
	ListCharges(ctx context.Context, q ChargeQuery) ([]ChargeResult, error)

	CreateSetupIntent(ctx context.Context, req CreateSetupIntentRequest) (SetupIntent, error)
	CreateMandate(ctx context.Context, req CreateMandateRequest) (Mandate, error)
	GetPaymentMethodEligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error)
	CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, providerMethodID string) error

	HealthCheck(ctx context.Context) HealthStatus
}

// Notification is a provider webhook decoded into normalized fields.
type Notification struct {
	EventID string
	Type    string // payment_intent.succeeded|payment_intent.failed|payment_intent.canceled|charge.refunded|refund.failed

	IntentRef string // provider intent id
	ChargeRef string // provider charge id
	RefundRef string // provider refund id

	AmountCents int64
	Currency    string
	Reason      string
}

// WebhookVerifier is implemented by adapters whose provider signs webhooks.
// Verification failures must not be *GatewayError; the HTTP layer turns them
// into a 400 without touching storage.
type WebhookVerifier interface {
	VerifyWebhook(headers http.Header, body []byte) (Notification, error)
}
