package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockIntentLifecycle(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	in, err := m.CreatePaymentIntent(ctx, CreateIntentRequest{
		AmountCents:    2500,
		Currency:       "EUR",
		CaptureMethod:  CaptureManual,
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentRequiresPaymentMethod, in.Status)

	// provider-side idempotency: same key, same intent
	again, err := m.CreatePaymentIntent(ctx, CreateIntentRequest{
		AmountCents:    2500,
		Currency:       "EUR",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, in.ProviderIntentID, again.ProviderIntentID)

	in, err = m.ConfirmPaymentIntent(ctx, ConfirmIntentRequest{
		ProviderIntentID: in.ProviderIntentID,
		PaymentMethodRef: "pm_test",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentRequiresCapture, in.Status)
	assert.Nil(t, in.Charge)

	in, err = m.CapturePaymentIntent(ctx, CaptureIntentRequest{ProviderIntentID: in.ProviderIntentID})
	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, in.Status)
	require.NotNil(t, in.Charge)
	assert.Equal(t, ChargeSucceeded, in.Charge.Status)
	assert.EqualValues(t, 2500, in.Charge.AmountCents)

	// double capture rejected
	_, err = m.CapturePaymentIntent(ctx, CaptureIntentRequest{ProviderIntentID: in.ProviderIntentID})
	ge, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidRequest, ge.Code)
}

func TestMockRefundRejectsExcess(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	in, err := m.CreatePaymentIntent(ctx, CreateIntentRequest{AmountCents: 1000, Currency: "EUR"})
	require.NoError(t, err)
	in, err = m.ConfirmPaymentIntent(ctx, ConfirmIntentRequest{
		ProviderIntentID: in.ProviderIntentID,
		PaymentMethodRef: "pm_test",
	})
	require.NoError(t, err)
	require.NotNil(t, in.Charge)

	_, err = m.CreateRefund(ctx, CreateRefundRequest{
		ProviderChargeID: in.Charge.ProviderChargeID,
		AmountCents:      2000,
	})
	ge, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidRequest, ge.Code)

	r, err := m.CreateRefund(ctx, CreateRefundRequest{ProviderChargeID: in.Charge.ProviderChargeID})
	require.NoError(t, err)
	assert.Equal(t, RefundSucceeded, r.Status)
	assert.EqualValues(t, 1000, r.AmountCents)

	ch, err := m.GetCharge(ctx, in.Charge.ProviderChargeID)
	require.NoError(t, err)
	assert.Equal(t, ChargeRefunded, ch.Status)
}

func TestMockFailNextClearsAfterUse(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	m.FailNext["CreatePaymentIntent"] = NewError(CodeRateLimited, "slow down")
	_, err := m.CreatePaymentIntent(ctx, CreateIntentRequest{AmountCents: 100, Currency: "EUR"})
	require.Error(t, err)

	_, err = m.CreatePaymentIntent(ctx, CreateIntentRequest{AmountCents: 100, Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Calls["CreatePaymentIntent"])
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMockVerifyWebhook(t *testing.T) {
	m := NewMock()
	m.WebhookSecret = "whsec_test"

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"intent_ref":"pi_1","charge_ref":"ch_1","amount_cents":900,"currency":"EUR"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", signBody("whsec_test", body))

	n, err := m.VerifyWebhook(h, body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", n.EventID)
	assert.Equal(t, "payment_intent.succeeded", n.Type)
	assert.Equal(t, "pi_1", n.IntentRef)
	assert.Equal(t, "ch_1", n.ChargeRef)
	assert.EqualValues(t, 900, n.AmountCents)
}

func TestMockVerifyWebhookRejects(t *testing.T) {
	m := NewMock()
	m.WebhookSecret = "whsec_test"
	body := []byte(`{"id":"evt_1","type":"x"}`)

	// missing header
	_, err := m.VerifyWebhook(http.Header{}, body)
	assert.Error(t, err)

	// wrong secret
	h := http.Header{}
	h.Set("X-Webhook-Signature", signBody("other", body))
	_, err = m.VerifyWebhook(h, body)
	assert.Error(t, err)

	// tampered body
	h.Set("X-Webhook-Signature", signBody("whsec_test", body))
	_, err = m.VerifyWebhook(h, []byte(`{"id":"evt_2","type":"x"}`))
	assert.Error(t, err)

	// valid signature over an incomplete payload
	empty := []byte(`{}`)
	h.Set("X-Webhook-Signature", signBody("whsec_test", empty))
	_, err = m.VerifyWebhook(h, empty)
	assert.Error(t, err)
}
