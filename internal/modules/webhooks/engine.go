package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payline.dev/app/internal/alert"
	"payline.dev/app/internal/gateway"
)

// Processor handles one persisted event. A nil error marks the event
// success; anything else schedules a retry.
type Processor func(ctx context.Context, ev WebhookEvent) error

type Config struct {
	MaxRetries  int // default 5
	Backoff     BackoffConfig
	Concurrency int // per-sweep worker limit, default 4
}

func DefaultConfig() Config {
	return Config{MaxRetries: 5, Backoff: DefaultBackoff(), Concurrency: 4}
}

var (
	ErrNotDeadLettered = errors.New("webhook event is not dead-lettered")
	ErrEventNotFound   = errors.New("webhook event not found")
)

// Engine owns webhook delivery reliability: ingestion with dedupe, retry
// sweeps with backoff, dead-lettering and manual replay.
type Engine struct {
	db        *gorm.DB
	cfg       Config
	processor Processor
	logger    *slog.Logger
	notifier  alert.Notifier

	sweeping atomic.Bool
}

func NewEngine(db *gorm.DB, cfg Config, processor Processor) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Backoff.InitialDelay == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Engine{db: db, cfg: cfg, processor: processor, logger: slog.Default()}
}

func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }
func (e *Engine) SetNotifier(n alert.Notifier)  { e.notifier = n }
func (e *Engine) SetProcessor(p Processor)      { e.processor = p }

// Ingest persists a verified notification as pending. Duplicate
// (provider, event_id) pairs are logged no-ops; the engine's sweep picks the
// row up for processing.
func (e *Engine) Ingest(ctx context.Context, provider string, n gateway.Notification, raw []byte) (WebhookEvent, error) {
	now := time.Now()
	ev := WebhookEvent{
		ID:               uuid.NewString(),
		Provider:         provider,
		EventID:          n.EventID,
		EventType:        n.Type,
		Payload:          datatypes.JSON(raw),
		IntentRef:        n.IntentRef,
		ChargeRef:        n.ChargeRef,
		RefundRef:        n.RefundRef,
		AmountCents:      n.AmountCents,
		Currency:         n.Currency,
		Reason:           n.Reason,
		ProcessingStatus: StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.db.WithContext(ctx).Create(&ev).Error; err != nil {
		if isDup(err) {
			e.logger.InfoContext(ctx, "webhook event deduplicated",
				"provider", provider, "event_id", n.EventID, "type", n.Type)
			var existing WebhookEvent
			if ferr := e.db.WithContext(ctx).
				First(&existing, "provider = ? AND event_id = ?", provider, n.EventID).Error; ferr == nil {
				return existing, nil
			}
			return ev, nil
		}
		return WebhookEvent{}, err
	}
	return ev, nil
}

type SweepStats struct {
	Picked     int
	Succeeded  int
	Failed     int
	DeadLetter int
}

// Sweep processes every due event once. A reentrancy guard makes a sweep
// triggered while another is running a no-op. Events run concurrently up to
// the configured limit; one event's failure never aborts the others.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	if !e.sweeping.CompareAndSwap(false, true) {
		return SweepStats{}, nil
	}
	defer e.sweeping.Store(false)

	now := time.Now()
	var due []WebhookEvent
	err := e.db.WithContext(ctx).
		Where("processing_status = ?", StatusPending).
		Or(e.db.
			Where("processing_status IN ?", []string{StatusFailed, StatusRetrying}).
			Where("retry_count < ?", e.cfg.MaxRetries).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now)).
		Order("created_at ASC").
		Find(&due).Error
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Picked: len(due)}
	if len(due) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Concurrency)

	for _, ev := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ev WebhookEvent) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := e.attempt(ctx, ev)
			mu.Lock()
			switch outcome {
			case StatusSuccess:
				stats.Succeeded++
			case StatusDeadLetter:
				stats.DeadLetter++
			case StatusFailed:
				stats.Failed++
			}
			mu.Unlock()
		}(ev)
	}
	wg.Wait()

	if stats.Picked > 0 {
		e.logger.InfoContext(ctx, "webhook sweep finished",
			"picked", stats.Picked, "succeeded", stats.Succeeded,
			"failed", stats.Failed, "dead_letter", stats.DeadLetter)
	}
	return stats, nil
}

// attempt drives one event through a single processing attempt and returns
// the resulting status.
func (e *Engine) attempt(ctx context.Context, ev WebhookEvent) string {
	now := time.Now()

	// Mark the attempt before invoking the callback so a crash mid-call
	// leaves an honest record.
	upd := map[string]any{"last_retry_at": now, "updated_at": now}
	if ev.ProcessingStatus == StatusPending {
		upd["processing_status"] = StatusProcessing
		ev.ProcessingStatus = StatusProcessing
	} else {
		ev.RetryCount++
		next := now.Add(e.cfg.Backoff.Delay(ev.RetryCount))
		upd["processing_status"] = StatusRetrying
		upd["retry_count"] = ev.RetryCount
		upd["next_retry_at"] = next
		ev.ProcessingStatus = StatusRetrying
	}
	if err := e.db.WithContext(ctx).Model(&WebhookEvent{}).Where("id = ?", ev.ID).Updates(upd).Error; err != nil {
		e.logger.ErrorContext(ctx, "failed to mark webhook attempt", "event_id", ev.EventID, "err", err)
		return StatusFailed
	}

	perr := e.invoke(ctx, ev)
	now = time.Now()

	if perr == nil {
		if err := e.db.WithContext(ctx).Model(&WebhookEvent{}).Where("id = ?", ev.ID).
			Updates(map[string]any{
				"processing_status": StatusSuccess,
				"processed_at":      now,
				"error_message":     nil,
				"updated_at":        now,
			}).Error; err != nil {
			e.logger.ErrorContext(ctx, "failed to finalize webhook success", "event_id", ev.EventID, "err", err)
			return StatusFailed
		}
		return StatusSuccess
	}

	status := StatusFailed
	msg := truncate(perr.Error(), 250)
	if ev.RetryCount >= e.cfg.MaxRetries {
		status = StatusDeadLetter
		msg = "Max retries exceeded"
	}
	if err := e.db.WithContext(ctx).Model(&WebhookEvent{}).Where("id = ?", ev.ID).
		Updates(map[string]any{
			"processing_status": status,
			"error_message":     msg,
			"updated_at":        now,
		}).Error; err != nil {
		e.logger.ErrorContext(ctx, "failed to record webhook failure", "event_id", ev.EventID, "err", err)
		return StatusFailed
	}

	if status == StatusDeadLetter {
		e.logger.ErrorContext(ctx, "webhook event dead-lettered",
			"provider", ev.Provider, "event_id", ev.EventID, "type", ev.EventType,
			"retry_count", ev.RetryCount, "last_error", perr.Error())
		if e.notifier != nil {
			_ = e.notifier.Notify(ctx, alert.Alert{
				Severity: alert.SeverityCritical,
				Subject:  "Webhook event dead-lettered",
				Body: fmt.Sprintf("provider=%s event_id=%s type=%s retries=%d last_error=%v",
					ev.Provider, ev.EventID, ev.EventType, ev.RetryCount, perr),
				Tags: map[string]string{"provider": ev.Provider, "event_type": ev.EventType},
			})
		}
	} else {
		e.logger.WarnContext(ctx, "webhook processing failed",
			"provider", ev.Provider, "event_id", ev.EventID, "type", ev.EventType,
			"retry_count", ev.RetryCount, "err", perr)
	}
	return status
}

// invoke runs the processor with panic containment.
func (e *Engine) invoke(ctx context.Context, ev WebhookEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panic: %v", rec)
		}
	}()
	if e.processor == nil {
		return errors.New("no webhook processor configured")
	}
	return e.processor(ctx, ev)
}

// DeadLetterQueue returns dead-lettered events, newest first.
func (e *Engine) DeadLetterQueue(ctx context.Context) ([]WebhookEvent, error) {
	var events []WebhookEvent
	err := e.db.WithContext(ctx).
		Where("processing_status = ?", StatusDeadLetter).
		Order("updated_at DESC").
		Find(&events).Error
	return events, err
}

// RetryDeadLetter requeues a dead-lettered event: retry_count back to zero,
// error cleared, status pending. Fails for any other status.
func (e *Engine) RetryDeadLetter(ctx context.Context, id string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev WebhookEvent
		if err := tx.First(&ev, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if ev.ProcessingStatus != StatusDeadLetter {
			return ErrNotDeadLettered
		}
		return tx.Model(&WebhookEvent{}).Where("id = ?", ev.ID).
			Updates(map[string]any{
				"processing_status": StatusPending,
				"retry_count":       0,
				"error_message":     nil,
				"next_retry_at":     nil,
				"updated_at":        time.Now(),
			}).Error
	})
}

type RetryStats struct {
	Counts      map[string]int64 `json:"counts"`
	Total       int64            `json:"total"`
	SuccessRate float64          `json:"success_rate"`
}

func (e *Engine) Stats(ctx context.Context) (RetryStats, error) {
	var rows []struct {
		ProcessingStatus string
		N                int64
	}
	err := e.db.WithContext(ctx).Model(&WebhookEvent{}).
		Select("processing_status, COUNT(*) AS n").
		Group("processing_status").
		Scan(&rows).Error
	if err != nil {
		return RetryStats{}, err
	}

	stats := RetryStats{Counts: map[string]int64{}}
	for _, r := range rows {
		stats.Counts[r.ProcessingStatus] = r.N
		stats.Total += r.N
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Counts[StatusSuccess]) / float64(stats.Total)
	}
	return stats, nil
}

// CleanupOld deletes successful events older than the retention window.
// Rolled back wholesale on any error so a partial delete never corrupts the
// queue.
func (e *Engine) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("retention days must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var deleted int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("processing_status = ? AND processed_at < ?", StatusSuccess, cutoff).
			Delete(&WebhookEvent{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "webhook cleanup failed", "err", err)
		return 0, err
	}
	if deleted > 0 {
		e.logger.InfoContext(ctx, "webhook cleanup done", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
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
