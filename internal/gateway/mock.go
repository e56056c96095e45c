package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock is the always-available fallback adapter. It keeps everything in
// memory, transitions instantly and records call counts so tests can assert
// how many provider round-trips actually happened.
type Mock struct {
	mu sync.Mutex

	WebhookSecret string

	intents map[string]*Intent
	charges map[string]*ChargeResult
	refunds map[string]*RefundResult
	// idempotency key -> created intent id
	intentKeys map[string]string

	Calls map[string]int

	// FailNext makes the next call of the named operation fail with the
	// given error (then clears). Used to exercise GatewayError paths.
	FailNext map[string]*GatewayError

	// Ineligible makes eligibility checks report false.
	Ineligible bool
	// Unhealthy makes HealthCheck report degraded.
	Unhealthy bool
	// RefundsPending makes CreateRefund return pending refunds that settle
	// via webhook, the way async providers behave.
	RefundsPending bool
}

func NewMock() *Mock {
	return &Mock{
		intents:    map[string]*Intent{},
		charges:    map[string]*ChargeResult{},
		refunds:    map[string]*RefundResult{},
		intentKeys: map[string]string{},
		Calls:      map[string]int{},
		FailNext:   map[string]*GatewayError{},
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) fail(op string) *GatewayError {
	m.Calls[op]++
	if ge, ok := m.FailNext[op]; ok && ge != nil {
		delete(m.FailNext, op)
		return ge
	}
	return nil
}

func (m *Mock) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreateCustomer"); ge != nil {
		return Customer{}, ge
	}
	return Customer{ProviderCustomerID: "cus_" + uuid.NewString()[:8], Email: req.Email, Name: req.Name}, nil
}

func (m *Mock) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreatePaymentIntent"); ge != nil {
		return Intent{}, ge
	}
	if req.AmountCents <= 0 {
		return Intent{}, NewError(CodeInvalidRequest, "amount must be positive")
	}

	// provider-side duplicate suppression
	if req.IdempotencyKey != "" {
		if id, ok := m.intentKeys[req.IdempotencyKey]; ok {
			return *m.intents[id], nil
		}
	}

	in := &Intent{
		ProviderIntentID: "pi_" + uuid.NewString()[:12],
		Status:           IntentRequiresPaymentMethod,
		AmountCents:      req.AmountCents,
		Currency:         req.Currency,
		CaptureMethod:    req.CaptureMethod,
		ClientSecret:     "secret_" + uuid.NewString()[:8],
	}
	if in.CaptureMethod == "" {
		in.CaptureMethod = CaptureAutomatic
	}
	m.intents[in.ProviderIntentID] = in
	if req.IdempotencyKey != "" {
		m.intentKeys[req.IdempotencyKey] = in.ProviderIntentID
	}
	return *in, nil
}

func (m *Mock) ConfirmPaymentIntent(ctx context.Context, req ConfirmIntentRequest) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("ConfirmPaymentIntent"); ge != nil {
		return Intent{}, ge
	}
	in, ok := m.intents[req.ProviderIntentID]
	if !ok {
		return Intent{}, NewError(CodeNotFound, "no such payment_intent")
	}
	if req.PaymentMethodRef == "" {
		return Intent{}, NewError(CodeInvalidRequest, "payment method required")
	}

	if in.CaptureMethod == CaptureManual {
		in.Status = IntentRequiresCapture
	} else {
		in.Status = IntentSucceeded
		m.attachCharge(in)
	}
	return *in, nil
}

func (m *Mock) CapturePaymentIntent(ctx context.Context, req CaptureIntentRequest) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CapturePaymentIntent"); ge != nil {
		return Intent{}, ge
	}
	in, ok := m.intents[req.ProviderIntentID]
	if !ok {
		return Intent{}, NewError(CodeNotFound, "no such payment_intent")
	}
	if in.Status != IntentRequiresCapture {
		return Intent{}, NewError(CodeInvalidRequest, "intent not capturable")
	}
	in.Status = IntentSucceeded
	m.attachCharge(in)
	if req.AmountCents > 0 && in.Charge != nil {
		in.Charge.AmountCents = req.AmountCents
		m.charges[in.Charge.ProviderChargeID].AmountCents = req.AmountCents
	}
	return *in, nil
}

// attachCharge creates the charge backing a succeeded intent. Caller holds mu.
func (m *Mock) attachCharge(in *Intent) {
	ch := &ChargeResult{
		ProviderChargeID: "ch_" + uuid.NewString()[:12],
		ProviderIntentID: in.ProviderIntentID,
		Status:           ChargeSucceeded,
		AmountCents:      in.AmountCents,
		Currency:         in.Currency,
		ReceiptRef:       "rcpt_" + uuid.NewString()[:8],
		CreatedAt:        time.Now(),
	}
	m.charges[ch.ProviderChargeID] = ch
	in.Charge = ch
}

func (m *Mock) CreateRefund(ctx context.Context, req CreateRefundRequest) (RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreateRefund"); ge != nil {
		return RefundResult{}, ge
	}
	ch, ok := m.charges[req.ProviderChargeID]
	if !ok {
		return RefundResult{}, NewError(CodeNotFound, "no such charge")
	}
	amount := req.AmountCents
	if amount <= 0 {
		amount = ch.AmountCents
	}
	if amount > ch.AmountCents {
		return RefundResult{}, NewError(CodeInvalidRequest, "refund exceeds charge amount")
	}
	status := RefundSucceeded
	if m.RefundsPending {
		status = RefundPending
	}
	r := &RefundResult{
		ProviderRefundID: "re_" + uuid.NewString()[:12],
		ProviderChargeID: ch.ProviderChargeID,
		Status:           status,
		AmountCents:      amount,
		Currency:         ch.Currency,
	}
	m.refunds[r.ProviderRefundID] = r
	if status == RefundSucceeded && amount == ch.AmountCents {
		ch.Status = ChargeRefunded
	}
	return *r, nil
}

func (m *Mock) GetPaymentIntent(ctx context.Context, providerIntentID string) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("GetPaymentIntent"); ge != nil {
		return Intent{}, ge
	}
	in, ok := m.intents[providerIntentID]
	if !ok {
		return Intent{}, NewError(CodeNotFound, "no such payment_intent")
	}
	return *in, nil
}

func (m *Mock) GetCharge(ctx context.Context, providerChargeID string) (ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("GetCharge"); ge != nil {
		return ChargeResult{}, ge
	}
	ch, ok := m.charges[providerChargeID]
	if !ok {
		return ChargeResult{}, NewError(CodeNotFound, "no such charge")
	}
	return *ch, nil
}

func (m *Mock) ListCharges(ctx context.Context, q ChargeQuery) ([]ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("ListCharges"); ge != nil {
		return nil, ge
	}
	var out []ChargeResult
	for _, ch := range m.charges {
		if !q.Start.IsZero() && ch.CreatedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && ch.CreatedAt.After(q.End) {
			continue
		}
		out = append(out, *ch)
	}
	return out, nil
}

// SeedCharge injects a provider-side charge, for reconciliation scenarios.
func (m *Mock) SeedCharge(ch ChargeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := ch
	m.charges[c.ProviderChargeID] = &c
}

func (m *Mock) CreateSetupIntent(ctx context.Context, req CreateSetupIntentRequest) (SetupIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreateSetupIntent"); ge != nil {
		return SetupIntent{}, ge
	}
	return SetupIntent{
		ProviderSetupID: "seti_" + uuid.NewString()[:12],
		Status:          IntentRequiresPaymentMethod,
		ClientSecret:    "seti_secret_" + uuid.NewString()[:8],
	}, nil
}

func (m *Mock) CreateMandate(ctx context.Context, req CreateMandateRequest) (Mandate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreateMandate"); ge != nil {
		return Mandate{}, ge
	}
	if req.PaymentMethodRef == "" {
		return Mandate{}, NewError(CodeInvalidRequest, "payment method required")
	}
	return Mandate{
		ProviderMandateID: "mandate_" + uuid.NewString()[:12],
		Status:            "active",
		Scheme:            req.Scheme,
		Reference:         "REF-" + uuid.NewString()[:8],
	}, nil
}

func (m *Mock) GetPaymentMethodEligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("GetPaymentMethodEligibility"); ge != nil {
		return Eligibility{}, ge
	}
	if m.Ineligible {
		return Eligibility{Eligible: false, Reason: "method not supported"}, nil
	}
	return Eligibility{Eligible: true}, nil
}

func (m *Mock) CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("CreatePaymentMethod"); ge != nil {
		return PaymentMethod{}, ge
	}
	return PaymentMethod{
		ProviderMethodID: "pm_" + uuid.NewString()[:12],
		Type:             req.Type,
		Last4:            "4242",
		ExpMonth:         12,
		ExpYear:          time.Now().Year() + 2,
	}, nil
}

func (m *Mock) DeletePaymentMethod(ctx context.Context, providerMethodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ge := m.fail("DeletePaymentMethod"); ge != nil {
		return ge
	}
	return nil
}

func (m *Mock) HealthCheck(ctx context.Context) HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["HealthCheck"]++
	if m.Unhealthy {
		return HealthStatus{Healthy: false, Detail: "forced unhealthy", CheckedAt: time.Now()}
	}
	return HealthStatus{Healthy: true, CheckedAt: time.Now()}
}

// VerifyWebhook checks the HMAC-SHA256 hex signature in X-Webhook-Signature
// over the raw body, then decodes the mock payload shape.
func (m *Mock) VerifyWebhook(headers http.Header, body []byte) (Notification, error) {
	sig := headers.Get("X-Webhook-Signature")
	if sig == "" {
		return Notification{}, fmt.Errorf("missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(m.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return Notification{}, fmt.Errorf("signature mismatch")
	}

	var p struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			IntentRef   string `json:"intent_ref"`
			ChargeRef   string `json:"charge_ref"`
			RefundRef   string `json:"refund_ref"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
			Reason      string `json:"reason"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("invalid payload: %w", err)
	}
	if p.ID == "" || p.Type == "" {
		return Notification{}, fmt.Errorf("payload missing id or type")
	}
	return Notification{
		EventID:     p.ID,
		Type:        p.Type,
		IntentRef:   p.Data.IntentRef,
		ChargeRef:   p.Data.ChargeRef,
		RefundRef:   p.Data.RefundRef,
		AmountCents: p.Data.AmountCents,
		Currency:    p.Data.Currency,
		Reason:      p.Data.Reason,
	}, nil
}
