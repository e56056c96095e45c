package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type StripeConfig struct {
	APIKey        string
	BaseURL       string // default https://api.stripe.com
	WebhookSecret string
	Timeout       time.Duration
}

// Stripe talks to the Stripe REST API with form-encoded bodies. Its intent
// status vocabulary already matches the contract enum, so mapping is mostly
// a passthrough with validation.
type Stripe struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripe(cfg StripeConfig) *Stripe {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Stripe{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *Stripe) Name() string { return "stripe" }

type stripeIntent struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CaptureMethod string `json:"capture_method"`
	ClientSecret  string `json:"client_secret"`
	NextAction    *struct {
		RedirectToURL struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	LatestCharge *stripeCharge `json:"latest_charge"`
	LastError    *stripeError  `json:"last_payment_error"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Customer       string `json:"customer"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ReceiptURL     string `json:"receipt_url"`
	FailureMessage string `json:"failure_message"`
	Refunded       bool   `json:"refunded"`
	Created        int64  `json:"created"`
}

type stripeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

func (s *Stripe) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, body)
	if err != nil {
		return WrapTransport(s.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return WrapTransport(s.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapTransport(s.Name(), err)
	}

	if resp.StatusCode >= 400 {
		return s.mapError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewError(CodeUnknown, "unexpected provider response")
		}
	}
	return nil
}

func (s *Stripe) mapError(status int, raw []byte) *GatewayError {
	var payload struct {
		Error stripeError `json:"error"`
	}
	_ = json.Unmarshal(raw, &payload)
	se := payload.Error

	code := CodeUnknown
	switch {
	case se.Code == "card_declined":
		code = CodeCardDeclined
	case se.Code == "insufficient_funds":
		code = CodeInsufficientFunds
	case se.Type == "invalid_request_error" && status == 404:
		code = CodeNotFound
	case se.Type == "invalid_request_error":
		code = CodeInvalidRequest
	case se.Type == "authentication_error" || status == 401:
		code = CodeAuthenticationError
	case status == 429:
		code = CodeRateLimited
	case status >= 500:
		code = CodeProviderUnavailable
	}

	msg := se.Message
	if msg == "" {
		msg = fmt.Sprintf("provider returned HTTP %d", status)
	}
	return NewErrorWithDetails(code, msg, map[string]any{
		"provider":      s.Name(),
		"provider_code": se.Code,
		"param":         se.Param,
		"http_status":   status,
	})
}

func mapStripeIntentStatus(status string) (IntentStatus, error) {
	switch status {
	case "requires_payment_method", "requires_confirmation", "requires_action",
		"processing", "requires_capture", "succeeded", "canceled":
		return IntentStatus(status), nil
	default:
		return "", fmt.Errorf("unknown stripe intent status %q", status)
	}
}

func (s *Stripe) toIntent(si stripeIntent) (Intent, error) {
	st, err := mapStripeIntentStatus(si.Status)
	if err != nil {
		return Intent{}, NewError(CodeUnknown, err.Error())
	}
	in := Intent{
		ProviderIntentID: si.ID,
		Status:           st,
		AmountCents:      si.Amount,
		Currency:         strings.ToUpper(si.Currency),
		CaptureMethod:    CaptureMethod(si.CaptureMethod),
		ClientSecret:     si.ClientSecret,
	}
	if si.NextAction != nil {
		in.NextActionURL = si.NextAction.RedirectToURL.URL
	}
	if si.LastError != nil {
		in.Status = IntentFailed
		in.FailureCode = si.LastError.Code
		in.FailureMessage = si.LastError.Message
	}
	if si.LatestCharge != nil {
		ch := s.toCharge(*si.LatestCharge)
		in.Charge = &ch
	}
	return in, nil
}

func (s *Stripe) toCharge(sc stripeCharge) ChargeResult {
	status := ChargePending
	switch {
	case sc.Refunded:
		status = ChargeRefunded
	case sc.Status == "succeeded":
		status = ChargeSucceeded
	case sc.Status == "failed":
		status = ChargeFailed
	}
	return ChargeResult{
		ProviderChargeID: sc.ID,
		ProviderIntentID: sc.PaymentIntent,
		CustomerRef:      sc.Customer,
		Status:           status,
		AmountCents:      sc.Amount,
		Currency:         strings.ToUpper(sc.Currency),
		ReceiptRef:       sc.ReceiptURL,
		FailureReason:    sc.FailureMessage,
		CreatedAt:        time.Unix(sc.Created, 0),
	}
}

func (s *Stripe) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error) {
	form := url.Values{}
	if req.Email != "" {
		form.Set("email", req.Email)
	}
	if req.Name != "" {
		form.Set("name", req.Name)
	}
	var out struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/customers", req.IdempotencyKey, form, &out); err != nil {
		return Customer{}, err
	}
	return Customer{ProviderCustomerID: out.ID, Email: out.Email, Name: out.Name}, nil
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	if req.CaptureMethod != "" {
		form.Set("capture_method", string(req.CaptureMethod))
	}
	if req.ConfirmationMethod != "" {
		form.Set("confirmation_method", req.ConfirmationMethod)
	}
	if req.PaymentMethodType != "" {
		form.Set("payment_method_types[]", req.PaymentMethodType)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out stripeIntent
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, form, &out); err != nil {
		return Intent{}, err
	}
	return s.toIntent(out)
}

func (s *Stripe) ConfirmPaymentIntent(ctx context.Context, req ConfirmIntentRequest) (Intent, error) {
	form := url.Values{}
	if req.PaymentMethodRef != "" {
		form.Set("payment_method", req.PaymentMethodRef)
	}
	if req.ReturnURL != "" {
		form.Set("return_url", req.ReturnURL)
	}
	form.Set("expand[]", "latest_charge")
	var out stripeIntent
	path := "/v1/payment_intents/" + url.PathEscape(req.ProviderIntentID) + "/confirm"
	if err := s.do(ctx, http.MethodPost, path, req.IdempotencyKey, form, &out); err != nil {
		return Intent{}, err
	}
	return s.toIntent(out)
}

func (s *Stripe) CapturePaymentIntent(ctx context.Context, req CaptureIntentRequest) (Intent, error) {
	form := url.Values{}
	if req.AmountCents > 0 {
		form.Set("amount_to_capture", strconv.FormatInt(req.AmountCents, 10))
	}
	form.Set("expand[]", "latest_charge")
	var out stripeIntent
	path := "/v1/payment_intents/" + url.PathEscape(req.ProviderIntentID) + "/capture"
	if err := s.do(ctx, http.MethodPost, path, req.IdempotencyKey, form, &out); err != nil {
		return Intent{}, err
	}
	return s.toIntent(out)
}

func (s *Stripe) CreateRefund(ctx context.Context, req CreateRefundRequest) (RefundResult, error) {
	form := url.Values{}
	form.Set("charge", req.ProviderChargeID)
	if req.AmountCents > 0 {
		form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	}
	if req.Reason != "" {
		form.Set("reason", req.Reason)
	}
	var out struct {
		ID       string `json:"id"`
		Charge   string `json:"charge"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/refunds", req.IdempotencyKey, form, &out); err != nil {
		return RefundResult{}, err
	}
	status := RefundPending
	switch out.Status {
	case "succeeded":
		status = RefundSucceeded
	case "failed", "canceled":
		status = RefundFailed
	}
	return RefundResult{
		ProviderRefundID: out.ID,
		ProviderChargeID: out.Charge,
		Status:           status,
		AmountCents:      out.Amount,
		Currency:         strings.ToUpper(out.Currency),
	}, nil
}

func (s *Stripe) GetPaymentIntent(ctx context.Context, providerIntentID string) (Intent, error) {
	var out stripeIntent
	path := "/v1/payment_intents/" + url.PathEscape(providerIntentID) + "?expand[]=latest_charge"
	if err := s.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return Intent{}, err
	}
	return s.toIntent(out)
}

func (s *Stripe) GetCharge(ctx context.Context, providerChargeID string) (ChargeResult, error) {
	var out stripeCharge
	path := "/v1/charges/" + url.PathEscape(providerChargeID)
	if err := s.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return ChargeResult{}, err
	}
	return s.toCharge(out), nil
}

func (s *Stripe) ListCharges(ctx context.Context, q ChargeQuery) ([]ChargeResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if !q.Start.IsZero() {
		query.Set("created[gte]", strconv.FormatInt(q.Start.Unix(), 10))
	}
	if !q.End.IsZero() {
		query.Set("created[lte]", strconv.FormatInt(q.End.Unix(), 10))
	}

	var charges []ChargeResult
	for {
		var out struct {
			Data    []stripeCharge `json:"data"`
			HasMore bool           `json:"has_more"`
		}
		if err := s.do(ctx, http.MethodGet, "/v1/charges?"+query.Encode(), "", nil, &out); err != nil {
			return nil, err
		}
		for _, sc := range out.Data {
			charges = append(charges, s.toCharge(sc))
		}
		if !out.HasMore || len(out.Data) == 0 {
			return charges, nil
		}
		query.Set("starting_after", out.Data[len(out.Data)-1].ID)
	}
}

func (s *Stripe) CreateSetupIntent(ctx context.Context, req CreateSetupIntentRequest) (SetupIntent, error) {
	form := url.Values{}
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	if req.PaymentMethodType != "" {
		form.Set("payment_method_types[]", req.PaymentMethodType)
	}
	var out struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ClientSecret string `json:"client_secret"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/setup_intents", req.IdempotencyKey, form, &out); err != nil {
		return SetupIntent{}, err
	}
	st, err := mapStripeIntentStatus(out.Status)
	if err != nil {
		st = IntentProcessing
	}
	return SetupIntent{ProviderSetupID: out.ID, Status: st, ClientSecret: out.ClientSecret}, nil
}

func (s *Stripe) CreateMandate(ctx context.Context, req CreateMandateRequest) (Mandate, error) {
	// Stripe creates mandates implicitly through setup intents; reading one
	// back is the closest explicit operation.
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		PaymentMethodDetails struct {
			Type string `json:"type"`
		} `json:"payment_method_details"`
		Reference string `json:"reference"`
	}
	path := "/v1/mandates/" + url.PathEscape(req.PaymentMethodRef)
	if err := s.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return Mandate{}, err
	}
	return Mandate{
		ProviderMandateID: out.ID,
		Status:            out.Status,
		Scheme:            out.PaymentMethodDetails.Type,
		Reference:         out.Reference,
	}, nil
}

func (s *Stripe) GetPaymentMethodEligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error) {
	// Stripe has no eligibility endpoint; derive from the account's
	// country/currency support matrix for the common method types.
	switch req.PaymentMethodType {
	case "card":
		return Eligibility{Eligible: true}, nil
	case "sepa_debit":
		if req.Currency != "" && !strings.EqualFold(req.Currency, "EUR") {
			return Eligibility{Eligible: false, Reason: "sepa_debit requires EUR"}, nil
		}
		return Eligibility{Eligible: true}, nil
	case "ideal":
		if !strings.EqualFold(req.Country, "NL") {
			return Eligibility{Eligible: false, Reason: "ideal requires NL"}, nil
		}
		return Eligibility{Eligible: true}, nil
	default:
		return Eligibility{Eligible: false, Reason: "unsupported payment method type"}, nil
	}
}

func (s *Stripe) CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (PaymentMethod, error) {
	form := url.Values{}
	form.Set("type", req.Type)
	if req.Token != "" {
		form.Set("card[token]", req.Token)
	}
	var out struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Card struct {
			Last4    string `json:"last4"`
			ExpMonth int    `json:"exp_month"`
			ExpYear  int    `json:"exp_year"`
		} `json:"card"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/payment_methods", "", form, &out); err != nil {
		return PaymentMethod{}, err
	}
	pm := PaymentMethod{ProviderMethodID: out.ID, Type: out.Type, Last4: out.Card.Last4, ExpMonth: out.Card.ExpMonth, ExpYear: out.Card.ExpYear}
	if req.CustomerRef != "" {
		attach := url.Values{}
		attach.Set("customer", req.CustomerRef)
		path := "/v1/payment_methods/" + url.PathEscape(out.ID) + "/attach"
		if err := s.do(ctx, http.MethodPost, path, "", attach, nil); err != nil {
			return PaymentMethod{}, err
		}
	}
	return pm, nil
}

func (s *Stripe) DeletePaymentMethod(ctx context.Context, providerMethodID string) error {
	path := "/v1/payment_methods/" + url.PathEscape(providerMethodID) + "/detach"
	return s.do(ctx, http.MethodPost, path, "", url.Values{}, nil)
}

func (s *Stripe) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	err := s.do(ctx, http.MethodGet, "/v1/balance", "", nil, &struct{}{})
	hs := HealthStatus{CheckedAt: time.Now(), Latency: time.Since(start)}
	if err != nil {
		hs.Detail = err.Error()
		return hs
	}
	hs.Healthy = true
	return hs
}

// VerifyWebhook validates the Stripe-Signature header
// (t=<unix>,v1=<hmac-sha256 hex of "<t>.<body>">) and decodes the event.
func (s *Stripe) VerifyWebhook(headers http.Header, body []byte) (Notification, error) {
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return Notification{}, fmt.Errorf("missing Stripe-Signature header")
	}
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return Notification{}, fmt.Errorf("malformed Stripe-Signature header")
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(v1), []byte(want)) {
		return Notification{}, fmt.Errorf("signature mismatch")
	}

	var ev struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return Notification{}, fmt.Errorf("invalid event payload: %w", err)
	}

	n := Notification{EventID: ev.ID}
	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripeIntent
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return Notification{}, fmt.Errorf("invalid payment_intent object: %w", err)
		}
		n.IntentRef = pi.ID
		n.AmountCents = pi.Amount
		n.Currency = strings.ToUpper(pi.Currency)
		switch ev.Type {
		case "payment_intent.succeeded":
			n.Type = "payment_intent.succeeded"
		case "payment_intent.payment_failed":
			n.Type = "payment_intent.failed"
			if pi.LastError != nil {
				n.Reason = pi.LastError.Message
			}
		case "payment_intent.canceled":
			n.Type = "payment_intent.canceled"
		}
	case "charge.refunded":
		var sc stripeCharge
		if err := json.Unmarshal(ev.Data.Object, &sc); err != nil {
			return Notification{}, fmt.Errorf("invalid charge object: %w", err)
		}
		n.Type = "charge.refunded"
		n.ChargeRef = sc.ID
		n.IntentRef = sc.PaymentIntent
		n.AmountCents = sc.Amount
		n.Currency = strings.ToUpper(sc.Currency)
	default:
		// pass through unmapped types; the dispatcher decides what to do
		n.Type = ev.Type
	}
	return n, nil
}
