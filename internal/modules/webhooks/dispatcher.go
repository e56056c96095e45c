package webhooks

import (
	"context"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
)

// NewDispatcher builds the default processor: rebuild the normalized
// notification from the persisted row and hand it to the orchestrator,
// which switches on the event type.
func NewDispatcher(svc *payments.Service) Processor {
	return func(ctx context.Context, ev WebhookEvent) error {
		return svc.ApplyEvent(ctx, ev.Provider, gateway.Notification{
			EventID:     ev.EventID,
			Type:        ev.EventType,
			IntentRef:   ev.IntentRef,
			ChargeRef:   ev.ChargeRef,
			RefundRef:   ev.RefundRef,
			AmountCents: ev.AmountCents,
			Currency:    ev.Currency,
			Reason:      ev.Reason,
		})
	}
}
