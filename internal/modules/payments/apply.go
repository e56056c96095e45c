package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payline.dev/app/internal/gateway"
)

// ApplyEvent folds a provider notification into local state. It is the
// webhook dispatcher's callback target; every branch is idempotent so retried
// deliveries are harmless, and terminal states are never overwritten.
func (s *Service) ApplyEvent(ctx context.Context, provider string, n gateway.Notification) error {
	switch n.Type {
	case "payment_intent.succeeded":
		return s.applyIntentStatus(ctx, provider, n, gateway.IntentSucceeded)
	case "payment_intent.failed":
		return s.applyIntentStatus(ctx, provider, n, gateway.IntentFailed)
	case "payment_intent.canceled":
		return s.applyIntentStatus(ctx, provider, n, gateway.IntentCanceled)
	case "payment_intent.requires_action":
		return s.applyIntentStatus(ctx, provider, n, gateway.IntentRequiresAction)
	case "charge.refunded":
		return s.applyRefundSettled(ctx, provider, n)
	case "refund.failed":
		return s.applyRefundFailed(ctx, provider, n)
	default:
		return fmt.Errorf("unknown webhook event type %q", n.Type)
	}
}

func (s *Service) applyIntentStatus(ctx context.Context, provider string, n gateway.Notification, to gateway.IntentStatus) error {
	if n.IntentRef == "" {
		return errors.New("missing intent_ref")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent PaymentIntent
		if err := tx.First(&intent, "provider = ? AND provider_intent_id = ?", provider, n.IntentRef).Error; err != nil {
			return err // not found yet => webhook retry picks it up later
		}

		if intent.Status == string(to) {
			return nil // replay
		}
		if !CanTransition(gateway.IntentStatus(intent.Status), to) {
			// A terminal intent reported differently by the provider is a
			// drift case for reconciliation, not something to overwrite.
			s.logger.ErrorContext(ctx, "webhook reports illegal intent transition",
				"intent_id", intent.ID, "from", intent.Status, "to", string(to),
				"provider", provider, "event_id", n.EventID)
			return ErrTerminalState
		}

		now := time.Now()
		upd := map[string]any{"status": string(to), "updated_at": now}
		if to == gateway.IntentFailed && n.Reason != "" {
			upd["error_message"] = truncate(n.Reason, 250)
		}
		if err := tx.Model(&PaymentIntent{}).Where("id = ?", intent.ID).Updates(upd).Error; err != nil {
			return err
		}
		if err := appendStatusEvent(tx, intent.ID, intent.Status, string(to), ptr("webhook="+n.EventID)); err != nil {
			return err
		}

		if to == gateway.IntentSucceeded && n.ChargeRef != "" {
			intent.Status = string(to)
			return s.upsertCharge(tx, intent, gateway.ChargeResult{
				ProviderChargeID: n.ChargeRef,
				ProviderIntentID: n.IntentRef,
				Status:           gateway.ChargeSucceeded,
				AmountCents:      pickAmount(n.AmountCents, intent.AmountCents),
				Currency:         intent.Currency,
			})
		}
		return nil
	})
}

func (s *Service) applyRefundSettled(ctx context.Context, provider string, n gateway.Notification) error {
	if n.ChargeRef == "" {
		return errors.New("missing charge_ref")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var charge Charge
		if err := tx.First(&charge, "provider = ? AND provider_charge_id = ?", provider, n.ChargeRef).Error; err != nil {
			return err
		}

		now := time.Now()
		if n.RefundRef != "" {
			var refund Refund
			err := tx.First(&refund, "provider_refund_id = ?", n.RefundRef).Error
			switch {
			case err == nil:
				if refund.Status != string(gateway.RefundSucceeded) {
					if err := tx.Model(&Refund{}).Where("id = ?", refund.ID).
						Updates(map[string]any{
							"status":        string(gateway.RefundSucceeded),
							"error_message": nil,
							"updated_at":    now,
						}).Error; err != nil {
						return err
					}
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				// provider-initiated refund we have no row for
				amount := pickAmount(n.AmountCents, charge.AmountCents)
				r := Refund{
					ID:               uuid.NewString(),
					ChargeID:         charge.ID,
					Provider:         provider,
					ProviderRefundID: ptr(n.RefundRef),
					Status:           string(gateway.RefundSucceeded),
					AmountCents:      amount,
					Currency:         charge.Currency,
					IdempotencyKey:   "provider:" + n.RefundRef,
					Reason:           ptr("provider-initiated"),
					CreatedAt:        now,
					UpdatedAt:        now,
				}
				if err := tx.Create(&r).Error; err != nil && !isDup(err) {
					return err
				}
			default:
				return err
			}
		}

		var refunded int64
		if err := tx.Model(&Refund{}).
			Where("charge_id = ? AND status = ?", charge.ID, string(gateway.RefundSucceeded)).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&refunded).Error; err != nil {
			return err
		}
		if refunded >= charge.AmountCents && charge.Status != string(gateway.ChargeRefunded) {
			return tx.Model(&Charge{}).Where("id = ?", charge.ID).
				Updates(map[string]any{"status": string(gateway.ChargeRefunded), "updated_at": now}).Error
		}
		return nil
	})
}

func (s *Service) applyRefundFailed(ctx context.Context, provider string, n gateway.Notification) error {
	if n.RefundRef == "" {
		return errors.New("missing refund_ref")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refund Refund
		if err := tx.First(&refund, "provider = ? AND provider_refund_id = ?", provider, n.RefundRef).Error; err != nil {
			return err
		}
		if refund.Status == string(gateway.RefundFailed) {
			return nil
		}
		upd := map[string]any{
			"status":     string(gateway.RefundFailed),
			"updated_at": time.Now(),
		}
		if n.Reason != "" {
			upd["error_message"] = truncate(n.Reason, 250)
		} else {
			upd["error_message"] = "provider webhook: refund failed"
		}
		return tx.Model(&Refund{}).Where("id = ?", refund.ID).Updates(upd).Error
	})
}

func pickAmount(fromEvent, fallback int64) int64 {
	if fromEvent > 0 {
		return fromEvent
	}
	return fallback
}
