package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
)

type testApp struct {
	router *gin.Engine
	mock   *gateway.Mock
	db     *gorm.DB
	engine *webhooks.Engine
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&payments.PaymentIntent{}, &payments.Charge{}, &payments.Refund{},
		&payments.IntentStatusEvent{}, &webhooks.WebhookEvent{}, &reconcile.ReconciliationRun{},
	))

	m := gateway.NewMock()
	m.WebhookSecret = "whsec_test"
	reg := gateway.NewRegistry(
		gateway.RegistryConfig{Priority: []string{"mock"}},
		map[string]gateway.Constructor{
			"mock": func() (gateway.Gateway, error) { return m, nil },
		},
	)

	svc := payments.NewService(db, reg)
	engine := webhooks.NewEngine(db, webhooks.DefaultConfig(), webhooks.NewDispatcher(svc))
	rec := reconcile.NewEngine(db, reg, reconcile.DefaultConfig())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc.SetLogger(logger)
	engine.SetLogger(logger)
	rec.SetLogger(logger)

	r := NewRouter(RouterDeps{
		Logger:    logger,
		Registry:  reg,
		Payments:  svc,
		Webhooks:  engine,
		Reconcile: rec,
		AdminKey:  "test-admin-key",
	})
	return &testApp{router: r, mock: m, db: db, engine: engine}
}

func (a *testApp) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreatePaymentEndpoint(t *testing.T) {
	app := newTestApp(t)

	body := map[string]any{
		"amount_cents":    5000,
		"currency":        "EUR",
		"customer_ref":    "cus_9",
		"idempotency_key": "http-key-1",
	}
	w := app.do(t, http.MethodPost, "/api/payments", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode(t, w)
	assert.Equal(t, "mock", got["provider"])
	assert.Equal(t, "requires_payment_method", got["status"])
	assert.Equal(t, false, got["idempotent_replay"])

	// replay returns 200, same intent
	w = app.do(t, http.MethodPost, "/api/payments", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	replay := decode(t, w)
	assert.Equal(t, got["id"], replay["id"])
	assert.Equal(t, true, replay["idempotent_replay"])
}

func TestCreatePaymentIdempotencyKeyHeader(t *testing.T) {
	app := newTestApp(t)

	body := map[string]any{"amount_cents": 100, "currency": "EUR"}
	w := app.do(t, http.MethodPost, "/api/payments", body, map[string]string{
		"Idempotency-Key": "hdr-key",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// without any key anywhere: validation failure names the field
	w = app.do(t, http.MethodPost, "/api/payments", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	got := decode(t, w)
	fields, ok := got["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "idempotency_key")
}

func TestCreatePaymentValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/payments", map[string]any{
		"amount_cents":    -5,
		"currency":        "EURO",
		"idempotency_key": "k",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	got := decode(t, w)
	assert.NotEmpty(t, got["request_id"])
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/payments", map[string]any{
		"amount_cents":    3000,
		"currency":        "EUR",
		"capture_method":  "manual",
		"idempotency_key": "flow-key",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = app.do(t, http.MethodPost, "/api/payments/"+id+"/confirm", map[string]any{
		"payment_method_ref": "pm_test",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "requires_capture", decode(t, w)["status"])

	w = app.do(t, http.MethodPost, "/api/payments/"+id+"/capture", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "succeeded", decode(t, w)["status"])

	// second capture conflicts with the terminal state
	w = app.do(t, http.MethodPost, "/api/payments/"+id+"/capture", map[string]any{}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, http.MethodGet, "/api/payments/"+id+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	assert.Len(t, events, 3)
}

func TestGetPaymentNotFound(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/api/payments/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookEndpoint(t *testing.T) {
	app := newTestApp(t)

	payload := []byte(`{"id":"evt_h1","type":"payment_intent.succeeded","data":{"intent_ref":"pi_x"}}`)
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", sig)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode(t, w)
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "pending", got["status"])

	// bad signature never touches storage
	req = httptest.NewRequest(http.MethodPost, "/webhooks/mock", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, app.db.Model(&webhooks.WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// unknown provider
	req = httptest.NewRequest(http.MethodPost, "/webhooks/acme", bytes.NewReader(payload))
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/api/admin/webhooks/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/api/admin/webhooks/stats", nil, map[string]string{
		"X-Admin-Key": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/api/admin/webhooks/stats", nil, map[string]string{
		"X-Admin-Key": "test-admin-key",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminDeadLetterEndpoints(t *testing.T) {
	app := newTestApp(t)
	auth := map[string]string{"X-Admin-Key": "test-admin-key"}

	w := app.do(t, http.MethodGet, "/api/admin/webhooks/dead-letter", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = app.do(t, http.MethodPost, "/api/admin/webhooks/dead-letter/nope/retry", nil, auth)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, "/api/admin/webhooks/sweep", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	app.mock.Unhealthy = true
	w = app.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}
