package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/http/middleware"
	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
	"payline.dev/app/internal/shared/apperr"
)

// failDomain translates service-layer errors into the apperr taxonomy the
// error-handler middleware renders.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrIntentNotFound),
		errors.Is(err, payments.ErrChargeNotFound),
		errors.Is(err, webhooks.ErrEventNotFound):
		middleware.Fail(c, apperr.NotFoundErr("Resource not found."))
	case errors.Is(err, payments.ErrInvalidInput):
		middleware.Fail(c, apperr.InvalidErr("Request is invalid.", nil))
	case errors.Is(err, payments.ErrRefundExceeds):
		middleware.Fail(c, apperr.InvalidErr("Refund amount exceeds the remaining refundable balance.", nil))
	case errors.Is(err, payments.ErrTerminalState):
		middleware.Fail(c, apperr.ConflictErr("Payment is in a terminal state."))
	case errors.Is(err, payments.ErrNotConfirmable):
		middleware.Fail(c, apperr.ConflictErr("Payment cannot be confirmed in its current state."))
	case errors.Is(err, payments.ErrNotCapturable):
		middleware.Fail(c, apperr.ConflictErr("Payment cannot be captured in its current state."))
	case errors.Is(err, payments.ErrChargeNotSettled):
		middleware.Fail(c, apperr.ConflictErr("Charge is not in a refundable state."))
	case errors.Is(err, webhooks.ErrNotDeadLettered):
		middleware.Fail(c, apperr.ConflictErr("Event is not dead-lettered."))
	case errors.Is(err, reconcile.ErrRunInProgress):
		middleware.Fail(c, apperr.ConflictErr("A reconciliation run is already in progress."))
	default:
		if ge, ok := gateway.AsGatewayError(err); ok {
			middleware.Fail(c, apperr.GatewayErr(ge.Message, err))
			return
		}
		middleware.Fail(c, apperr.Wrap(err))
	}
}

func intentJSON(pi payments.PaymentIntent) gin.H {
	return gin.H{
		"id":                  pi.ID,
		"provider":            pi.Provider,
		"provider_intent_id":  pi.ProviderIntentID,
		"customer_ref":        pi.CustomerRef,
		"amount_cents":        pi.AmountCents,
		"currency":            pi.Currency,
		"status":              pi.Status,
		"capture_method":      pi.CaptureMethod,
		"confirmation_method": pi.ConfirmationMethod,
		"payment_method_type": pi.PaymentMethodType,
		"country":             pi.Country,
		"error_message":       pi.ErrorMessage,
		"created_at":          pi.CreatedAt,
		"updated_at":          pi.UpdatedAt,
	}
}

func chargeJSON(ch payments.Charge) gin.H {
	return gin.H{
		"id":                 ch.ID,
		"intent_id":          ch.IntentID,
		"provider":           ch.Provider,
		"provider_charge_id": ch.ProviderChargeID,
		"customer_ref":       ch.CustomerRef,
		"status":             ch.Status,
		"amount_cents":       ch.AmountCents,
		"currency":           ch.Currency,
		"receipt_ref":        ch.ReceiptRef,
		"failure_reason":     ch.FailureReason,
		"created_at":         ch.CreatedAt,
	}
}

func refundJSON(rf payments.Refund) gin.H {
	return gin.H{
		"id":                 rf.ID,
		"charge_id":          rf.ChargeID,
		"provider":           rf.Provider,
		"provider_refund_id": rf.ProviderRefundID,
		"status":             rf.Status,
		"amount_cents":       rf.AmountCents,
		"currency":           rf.Currency,
		"reason":             rf.Reason,
		"created_at":         rf.CreatedAt,
	}
}
