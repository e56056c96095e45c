package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/http/middleware"
	"payline.dev/app/internal/http/validation"
	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/shared/apperr"
)

type PaymentHandler struct {
	Logger *slog.Logger
	Svc    *payments.Service
}

func NewPaymentHandler(logger *slog.Logger, svc *payments.Service) *PaymentHandler {
	return &PaymentHandler{Logger: logger, Svc: svc}
}

type createIntentRequest struct {
	AmountCents        int64             `json:"amount_cents" binding:"required,gt=0"`
	Currency           string            `json:"currency" binding:"required,len=3"`
	CustomerRef        string            `json:"customer_ref"`
	PaymentMethodType  string            `json:"payment_method_type"`
	Country            string            `json:"country"`
	CaptureMethod      string            `json:"capture_method" binding:"omitempty,oneof=automatic manual"`
	ConfirmationMethod string            `json:"confirmation_method" binding:"omitempty,oneof=automatic manual"`
	Provider           string            `json:"provider"`
	IdempotencyKey     string            `json:"idempotency_key"`
	Metadata           map[string]string `json:"metadata"`
}

// POST /api/payments
// The idempotency key may come in the body or the Idempotency-Key header;
// the body wins when both are present.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", validation.FromBindError(err, &req)))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.",
			map[string]string{"idempotency_key": "This field is required."}))
		return
	}

	res, err := h.Svc.CreateIntent(c.Request.Context(), payments.CreateIntentInput{
		AmountCents:        req.AmountCents,
		Currency:           req.Currency,
		CustomerRef:        req.CustomerRef,
		PaymentMethodType:  req.PaymentMethodType,
		Country:            req.Country,
		CaptureMethod:      req.CaptureMethod,
		ConfirmationMethod: req.ConfirmationMethod,
		Provider:           req.Provider,
		IdempotencyKey:     req.IdempotencyKey,
		Metadata:           req.Metadata,
	})
	if err != nil {
		failDomain(c, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	body := intentJSON(res.Intent)
	body["idempotent_replay"] = res.Idempotent
	c.JSON(status, body)
}

// GET /api/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	intent, err := h.Svc.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, intentJSON(intent))
}

// GET /api/payments/:id/history
func (h *PaymentHandler) History(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Svc.GetIntent(c.Request.Context(), id); err != nil {
		failDomain(c, err)
		return
	}
	events, err := h.Svc.IntentHistory(c.Request.Context(), id)
	if err != nil {
		failDomain(c, err)
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"from":       ev.FromStatus,
			"to":         ev.ToStatus,
			"note":       ev.Note,
			"created_at": ev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"intent_id": id, "events": out})
}

type confirmIntentRequest struct {
	PaymentMethodRef string `json:"payment_method_ref"`
	ReturnURL        string `json:"return_url"`
}

// POST /api/payments/:id/confirm
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req confirmIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", validation.FromBindError(err, &req)))
		return
	}

	intent, err := h.Svc.ConfirmIntent(c.Request.Context(), payments.ConfirmIntentInput{
		IntentID:         c.Param("id"),
		PaymentMethodRef: req.PaymentMethodRef,
		ReturnURL:        req.ReturnURL,
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, intentJSON(intent))
}

type captureIntentRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"omitempty,gt=0"`
}

// POST /api/payments/:id/capture
func (h *PaymentHandler) Capture(c *gin.Context) {
	var req captureIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", validation.FromBindError(err, &req)))
		return
	}

	intent, err := h.Svc.CaptureIntent(c.Request.Context(), payments.CaptureIntentInput{
		IntentID:    c.Param("id"),
		AmountCents: req.AmountCents,
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, intentJSON(intent))
}

// GET /api/charges/:id
func (h *PaymentHandler) GetCharge(c *gin.Context) {
	charge, err := h.Svc.GetCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, chargeJSON(charge))
}

type refundRequest struct {
	AmountCents    int64  `json:"amount_cents" binding:"omitempty,gt=0"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// POST /api/charges/:id/refunds
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", validation.FromBindError(err, &req)))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.",
			map[string]string{"idempotency_key": "This field is required."}))
		return
	}

	res, err := h.Svc.RefundCharge(c.Request.Context(), payments.RefundInput{
		ChargeID:       c.Param("id"),
		AmountCents:    req.AmountCents,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		failDomain(c, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	body := refundJSON(res.Refund)
	body["idempotent_replay"] = res.Idempotent
	c.JSON(status, body)
}
