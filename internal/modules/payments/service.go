package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payline.dev/app/internal/gateway"
)

type Service struct {
	db       *gorm.DB
	registry *gateway.Registry
	logger   *slog.Logger
}

func NewService(db *gorm.DB, registry *gateway.Registry) *Service {
	return &Service{db: db, registry: registry, logger: slog.Default()}
}

func (s *Service) SetLogger(logger *slog.Logger) { s.logger = logger }

type CreateIntentInput struct {
	AmountCents        int64
	Currency           string
	CustomerRef        string
	PaymentMethodType  string
	Country            string
	CaptureMethod      string // automatic|manual, default automatic
	ConfirmationMethod string // automatic|manual, default automatic
	Provider           string // explicit provider preference (optional)
	IdempotencyKey     string
	Metadata           map[string]string
}

type CreateIntentResult struct {
	Intent     PaymentIntent
	Idempotent bool
}

// CreateIntent drives idempotent intent creation: an existing row for the
// key is returned untouched with no provider call; otherwise one adapter
// round-trip plus one local transaction. Losing a duplicate-key race reads
// back the winner's row.
func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (CreateIntentResult, error) {
	if in.AmountCents <= 0 || len(in.Currency) != 3 || in.IdempotencyKey == "" {
		return CreateIntentResult{}, ErrInvalidInput
	}
	if in.CaptureMethod == "" {
		in.CaptureMethod = string(gateway.CaptureAutomatic)
	}
	if in.ConfirmationMethod == "" {
		in.ConfirmationMethod = "automatic"
	}

	// Idempotency gate: the unique key is the sole source of truth for
	// "has this logical request already happened".
	var existing PaymentIntent
	err := s.db.WithContext(ctx).First(&existing, "idempotency_key = ?", in.IdempotencyKey).Error
	if err == nil {
		return CreateIntentResult{Intent: existing, Idempotent: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return CreateIntentResult{}, err
	}

	adapter, err := s.registry.Resolve(ctx, gateway.TransactionHints{
		Provider:          in.Provider,
		PaymentMethodType: in.PaymentMethodType,
		Country:           in.Country,
		Currency:          in.Currency,
		AmountCents:       in.AmountCents,
	})
	if err != nil {
		return CreateIntentResult{}, err
	}

	// Provider round-trip outside any transaction.
	res, err := adapter.CreatePaymentIntent(ctx, gateway.CreateIntentRequest{
		AmountCents:        in.AmountCents,
		Currency:           in.Currency,
		CustomerRef:        in.CustomerRef,
		PaymentMethodType:  in.PaymentMethodType,
		Country:            in.Country,
		CaptureMethod:      gateway.CaptureMethod(in.CaptureMethod),
		ConfirmationMethod: in.ConfirmationMethod,
		IdempotencyKey:     in.IdempotencyKey,
		Metadata:           in.Metadata,
	})
	if err != nil {
		// Gateway failures surface synchronously, never retried here.
		return CreateIntentResult{}, err
	}

	var metadata datatypes.JSON
	if len(in.Metadata) > 0 {
		raw, _ := json.Marshal(in.Metadata)
		metadata = datatypes.JSON(raw)
	}

	now := time.Now()
	providerRef := res.ProviderIntentID
	intent := PaymentIntent{
		ID:                 uuid.NewString(),
		Provider:           adapter.Name(),
		ProviderIntentID:   &providerRef,
		CustomerRef:        in.CustomerRef,
		AmountCents:        in.AmountCents,
		Currency:           in.Currency,
		Status:             string(res.Status),
		CaptureMethod:      string(res.CaptureMethod),
		ConfirmationMethod: in.ConfirmationMethod,
		PaymentMethodType:  in.PaymentMethodType,
		Country:            in.Country,
		IdempotencyKey:     in.IdempotencyKey,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if intent.CaptureMethod == "" {
		intent.CaptureMethod = in.CaptureMethod
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&intent).Error; err != nil {
			return err
		}
		return appendStatusEvent(tx, intent.ID, "", intent.Status, nil)
	})
	if err != nil {
		if isDup(err) {
			// concurrent request with the same key won; return its row
			var winner PaymentIntent
			if e := s.db.WithContext(ctx).First(&winner, "idempotency_key = ?", in.IdempotencyKey).Error; e == nil {
				return CreateIntentResult{Intent: winner, Idempotent: true}, nil
			}
			return CreateIntentResult{}, err
		}
		// The provider-side intent exists but the local write failed.
		// Reconciliation picks this up; never retry the provider call.
		s.logger.ErrorContext(ctx, "intent persisted on provider but not locally",
			"provider", adapter.Name(), "provider_intent_id", res.ProviderIntentID,
			"idempotency_key", in.IdempotencyKey, "err", err)
		return CreateIntentResult{}, err
	}

	return CreateIntentResult{Intent: intent}, nil
}

type ConfirmIntentInput struct {
	IntentID         string
	PaymentMethodRef string
	ReturnURL        string
}

// ConfirmIntent confirms with the provider the intent was created on; the
// provider is pinned, never re-resolved through eligibility.
func (s *Service) ConfirmIntent(ctx context.Context, in ConfirmIntentInput) (PaymentIntent, error) {
	intent, err := s.GetIntent(ctx, in.IntentID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if IsTerminal(gateway.IntentStatus(intent.Status)) {
		return PaymentIntent{}, ErrTerminalState
	}
	switch gateway.IntentStatus(intent.Status) {
	case gateway.IntentRequiresPaymentMethod, gateway.IntentRequiresConfirmation:
	default:
		return PaymentIntent{}, ErrNotConfirmable
	}
	if in.PaymentMethodRef == "" {
		return PaymentIntent{}, ErrInvalidInput
	}

	adapter, err := s.registry.Get(intent.Provider)
	if err != nil {
		return PaymentIntent{}, err
	}
	res, err := adapter.ConfirmPaymentIntent(ctx, gateway.ConfirmIntentRequest{
		ProviderIntentID: deref(intent.ProviderIntentID),
		PaymentMethodRef: in.PaymentMethodRef,
		ReturnURL:        in.ReturnURL,
		IdempotencyKey:   intent.IdempotencyKey + ":confirm",
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	return s.applyGatewayResult(ctx, intent, res, "confirm")
}

type CaptureIntentInput struct {
	IntentID    string
	AmountCents int64 // 0 => full authorized amount
}

// CaptureIntent finalizes a manual-capture authorization. The state gate is
// checked locally before any network call.
func (s *Service) CaptureIntent(ctx context.Context, in CaptureIntentInput) (PaymentIntent, error) {
	intent, err := s.GetIntent(ctx, in.IntentID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if IsTerminal(gateway.IntentStatus(intent.Status)) {
		return PaymentIntent{}, ErrTerminalState
	}
	if intent.CaptureMethod != string(gateway.CaptureManual) ||
		intent.Status != string(gateway.IntentRequiresCapture) {
		return PaymentIntent{}, ErrNotCapturable
	}

	adapter, err := s.registry.Get(intent.Provider)
	if err != nil {
		return PaymentIntent{}, err
	}
	res, err := adapter.CapturePaymentIntent(ctx, gateway.CaptureIntentRequest{
		ProviderIntentID: deref(intent.ProviderIntentID),
		AmountCents:      in.AmountCents,
		IdempotencyKey:   intent.IdempotencyKey + ":capture",
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	return s.applyGatewayResult(ctx, intent, res, "capture")
}

// applyGatewayResult persists the adapter's view of the intent: status
// transition, failure detail and the backing charge row if one appeared.
func (s *Service) applyGatewayResult(ctx context.Context, intent PaymentIntent, res gateway.Intent, op string) (PaymentIntent, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		to := string(res.Status)
		if to != intent.Status {
			if !CanTransition(gateway.IntentStatus(intent.Status), gateway.IntentStatus(to)) {
				return ErrTerminalState
			}
			upd := map[string]any{"status": to, "updated_at": now}
			if res.FailureMessage != "" {
				upd["error_message"] = truncate(res.FailureMessage, 250)
			} else {
				upd["error_message"] = nil
			}
			if err := tx.Model(&PaymentIntent{}).Where("id = ?", intent.ID).Updates(upd).Error; err != nil {
				return err
			}
			if err := appendStatusEvent(tx, intent.ID, intent.Status, to, ptr("op="+op)); err != nil {
				return err
			}
			intent.Status = to
			intent.UpdatedAt = now
		}

		if res.Charge != nil {
			if err := s.upsertCharge(tx, intent, *res.Charge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

// upsertCharge records the charge backing an intent, keyed by the provider
// charge id. Replays are no-ops beyond a status refresh.
func (s *Service) upsertCharge(tx *gorm.DB, intent PaymentIntent, res gateway.ChargeResult) error {
	now := time.Now()
	var existing Charge
	err := tx.First(&existing, "provider_charge_id = ?", res.ProviderChargeID).Error
	if err == nil {
		if existing.Status == string(res.Status) {
			return nil
		}
		return tx.Model(&Charge{}).Where("id = ?", existing.ID).
			Updates(map[string]any{"status": string(res.Status), "updated_at": now}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	customerRef := res.CustomerRef
	if customerRef == "" {
		customerRef = intent.CustomerRef
	}
	ch := Charge{
		ID:               uuid.NewString(),
		IntentID:         intent.ID,
		Provider:         intent.Provider,
		ProviderChargeID: res.ProviderChargeID,
		CustomerRef:      customerRef,
		Status:           string(res.Status),
		AmountCents:      res.AmountCents,
		Currency:         intent.Currency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if res.ReceiptRef != "" {
		ch.ReceiptRef = ptr(res.ReceiptRef)
	}
	if res.FailureReason != "" {
		ch.FailureReason = ptr(truncate(res.FailureReason, 250))
	}
	if err := tx.Create(&ch).Error; err != nil {
		if isDup(err) {
			return nil // concurrent writer got there first
		}
		return err
	}
	return nil
}

type RefundInput struct {
	ChargeID       string
	AmountCents    int64 // 0 => full remaining balance
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	Refund     Refund
	Idempotent bool
}

// RefundCharge refunds up to the remaining refundable balance of a charge.
func (s *Service) RefundCharge(ctx context.Context, in RefundInput) (RefundResult, error) {
	if in.ChargeID == "" || in.IdempotencyKey == "" {
		return RefundResult{}, ErrInvalidInput
	}

	var charge Charge
	var refund Refund
	var amount int64

	// Phase-1: validate balance + create refund(pending) under the
	// (charge_id, idempotency_key) unique constraint.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&charge, "id = ?", in.ChargeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChargeNotFound
			}
			return err
		}
		if charge.Status != string(gateway.ChargeSucceeded) && charge.Status != string(gateway.ChargeRefunded) {
			return ErrChargeNotSettled
		}

		var refunded int64
		if err := tx.Model(&Refund{}).
			Where("charge_id = ? AND status = ?", charge.ID, string(gateway.RefundSucceeded)).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&refunded).Error; err != nil {
			return err
		}
		remaining := charge.AmountCents - refunded
		if remaining <= 0 {
			return ErrRefundExceeds
		}

		amount = in.AmountCents
		if amount <= 0 {
			amount = remaining
		}
		if amount > remaining {
			return ErrRefundExceeds
		}

		var existing Refund
		e := tx.First(&existing, "charge_id = ? AND idempotency_key = ?", charge.ID, in.IdempotencyKey).Error
		if e == nil {
			refund = existing
			return nil
		}
		if !errors.Is(e, gorm.ErrRecordNotFound) {
			return e
		}

		now := time.Now()
		refund = Refund{
			ID:             uuid.NewString(),
			ChargeID:       charge.ID,
			Provider:       charge.Provider,
			Status:         string(gateway.RefundPending),
			AmountCents:    amount,
			Currency:       charge.Currency,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.Reason != "" {
			refund.Reason = ptr(in.Reason)
		}
		if err := tx.Create(&refund).Error; err != nil {
			if isDup(err) {
				return tx.First(&refund, "charge_id = ? AND idempotency_key = ?", charge.ID, in.IdempotencyKey).Error
			}
			return err
		}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	// Idempotent replay of an already-settled refund.
	if refund.Status == string(gateway.RefundSucceeded) {
		return RefundResult{Refund: refund, Idempotent: true}, nil
	}

	// Phase-2: provider call outside the transaction.
	adapter, err := s.registry.Get(charge.Provider)
	if err != nil {
		return RefundResult{}, err
	}
	res, perr := adapter.CreateRefund(ctx, gateway.CreateRefundRequest{
		ProviderChargeID: charge.ProviderChargeID,
		AmountCents:      refund.AmountCents,
		Reason:           in.Reason,
		IdempotencyKey:   in.IdempotencyKey,
	})

	// Phase-3: finalize the refund row and, when fully refunded, the charge.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		upd := map[string]any{"updated_at": now}

		if perr != nil {
			upd["status"] = string(gateway.RefundFailed)
			upd["error_message"] = truncate(perr.Error(), 250)
			refund.Status = string(gateway.RefundFailed)
			return tx.Model(&Refund{}).Where("id = ?", refund.ID).Updates(upd).Error
		}

		if res.ProviderRefundID != "" {
			upd["provider_refund_id"] = res.ProviderRefundID
			refund.ProviderRefundID = ptr(res.ProviderRefundID)
		}
		upd["status"] = string(res.Status)
		upd["error_message"] = nil
		refund.Status = string(res.Status)
		if err := tx.Model(&Refund{}).Where("id = ?", refund.ID).Updates(upd).Error; err != nil {
			return err
		}

		// pending refunds settle later via webhook; don't touch the charge
		if res.Status != gateway.RefundSucceeded {
			return nil
		}

		var refunded int64
		if err := tx.Model(&Refund{}).
			Where("charge_id = ? AND status = ?", charge.ID, string(gateway.RefundSucceeded)).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&refunded).Error; err != nil {
			return err
		}
		if refunded >= charge.AmountCents {
			return tx.Model(&Charge{}).Where("id = ?", charge.ID).
				Updates(map[string]any{"status": string(gateway.ChargeRefunded), "updated_at": now}).Error
		}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}
	if perr != nil {
		return RefundResult{}, perr
	}
	return RefundResult{Refund: refund}, nil
}

func (s *Service) GetIntent(ctx context.Context, id string) (PaymentIntent, error) {
	var intent PaymentIntent
	if err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PaymentIntent{}, ErrIntentNotFound
		}
		return PaymentIntent{}, err
	}
	return intent, nil
}

func (s *Service) GetCharge(ctx context.Context, id string) (Charge, error) {
	var charge Charge
	if err := s.db.WithContext(ctx).First(&charge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Charge{}, ErrChargeNotFound
		}
		return Charge{}, err
	}
	return charge, nil
}

// IntentHistory returns the append-only status trail, oldest first.
func (s *Service) IntentHistory(ctx context.Context, intentID string) ([]IntentStatusEvent, error) {
	var events []IntentStatusEvent
	err := s.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

func appendStatusEvent(tx *gorm.DB, intentID, from, to string, note *string) error {
	return tx.Create(&IntentStatusEvent{
		ID:         uuid.NewString(),
		IntentID:   intentID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		CreatedAt:  time.Now(),
	}).Error
}

func isDup(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func ptr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
