package webhooks

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"payline.dev/app/internal/alert"
	"payline.dev/app/internal/gateway"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&WebhookEvent{}))
	return db
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			MaxDelay:     300 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0,
		},
		Concurrency: 2,
	}
}

func succeedAlways(ctx context.Context, ev WebhookEvent) error { return nil }

func notification(eventID string) gateway.Notification {
	return gateway.Notification{
		EventID:     eventID,
		Type:        "payment_intent.succeeded",
		IntentRef:   "pi_123",
		AmountCents: 5000,
		Currency:    "EUR",
	}
}

// forceDue rewinds next_retry_at so the next sweep picks the event up
// without waiting out the backoff.
func forceDue(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	err := db.Model(&WebhookEvent{}).Where("id = ?", id).
		Update("next_retry_at", time.Now().Add(-time.Second)).Error
	require.NoError(t, err)
}

func TestIngestDeduplicates(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), succeedAlways)

	ctx := context.Background()
	first, err := e.Ingest(ctx, "mock", notification("evt_1"), []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)

	second, err := e.Ingest(ctx, "mock", notification("evt_1"), []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// same event id from a different provider is a distinct event
	_, err = e.Ingest(ctx, "stripe", notification("evt_1"), []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	require.NoError(t, db.Model(&WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestSweepProcessesPendingEvent(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	e := NewEngine(db, fastConfig(5), func(ctx context.Context, ev WebhookEvent) error {
		calls.Add(1)
		assert.Equal(t, "evt_ok", ev.EventID)
		assert.Equal(t, "pi_123", ev.IntentRef)
		return nil
	})

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_ok"), []byte(`{}`))
	require.NoError(t, err)

	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Picked: 1, Succeeded: 1}, stats)
	assert.EqualValues(t, 1, calls.Load())

	var got WebhookEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.Equal(t, StatusSuccess, got.ProcessingStatus)
	assert.Equal(t, 0, got.RetryCount)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.ErrorMessage)

	// nothing left to pick
	stats, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Picked)
}

func TestSweepFailureSchedulesRetry(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), func(ctx context.Context, ev WebhookEvent) error {
		return errors.New("downstream unavailable")
	})

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_fail"), []byte(`{}`))
	require.NoError(t, err)

	// first attempt does not count as a retry
	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Picked: 1, Failed: 1}, stats)

	var got WebhookEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.Equal(t, StatusFailed, got.ProcessingStatus)
	assert.Equal(t, 0, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "downstream unavailable", *got.ErrorMessage)
	assert.NotNil(t, got.LastRetryAt)

	// immediately due again (no next_retry_at yet), this one is retry #1
	stats, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Picked: 1, Failed: 1}, stats)

	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(time.Now()), "backoff must push next_retry_at into the future")

	// backoff not elapsed: nothing picked
	stats, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Picked)
}

func TestDeadLetterAfterMaxRetries(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	e := NewEngine(db, fastConfig(3), func(ctx context.Context, ev WebhookEvent) error {
		calls.Add(1)
		return errors.New("still broken")
	})
	notifier := &alert.Mock{}
	e.SetNotifier(notifier)

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_dead"), []byte(`{}`))
	require.NoError(t, err)

	// initial attempt + 3 retries, each failing
	for i := 0; i < 4; i++ {
		stats, err := e.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Picked, "sweep %d", i+1)
		forceDue(t, db, ev.ID)
	}
	assert.EqualValues(t, 4, calls.Load())

	var got WebhookEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.Equal(t, StatusDeadLetter, got.ProcessingStatus)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Max retries exceeded", *got.ErrorMessage)

	require.Len(t, notifier.Sent, 1)
	assert.Equal(t, alert.SeverityCritical, notifier.Sent[0].Severity)

	// dead-lettered events stay out of the sweep
	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Picked)
	assert.EqualValues(t, 4, calls.Load())

	dlq, err := e.DeadLetterQueue(ctx)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, ev.ID, dlq[0].ID)
}

func TestRetryDeadLetterRequeues(t *testing.T) {
	db := testDB(t)
	fail := true
	e := NewEngine(db, fastConfig(1), func(ctx context.Context, ev WebhookEvent) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_replay"), []byte(`{}`))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := e.Sweep(ctx)
		require.NoError(t, err)
		forceDue(t, db, ev.ID)
	}

	var got WebhookEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	require.Equal(t, StatusDeadLetter, got.ProcessingStatus)

	fail = false
	require.NoError(t, e.RetryDeadLetter(ctx, ev.ID))

	// fresh destination: gorm leaves pointer fields stale when the refreshed
	// column is NULL
	var requeued WebhookEvent
	require.NoError(t, db.First(&requeued, "id = ?", ev.ID).Error)
	assert.Equal(t, StatusPending, requeued.ProcessingStatus)
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Nil(t, requeued.ErrorMessage)
	assert.Nil(t, requeued.NextRetryAt)

	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Picked: 1, Succeeded: 1}, stats)
}

func TestRetryDeadLetterRejectsWrongStatus(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), succeedAlways)

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_live"), []byte(`{}`))
	require.NoError(t, err)

	assert.ErrorIs(t, e.RetryDeadLetter(ctx, ev.ID), ErrNotDeadLettered)
	assert.ErrorIs(t, e.RetryDeadLetter(ctx, "no-such-id"), ErrEventNotFound)
}

func TestSweepContainsProcessorPanic(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), func(ctx context.Context, ev WebhookEvent) error {
		panic("bad payload")
	})

	ctx := context.Background()
	ev, err := e.Ingest(ctx, "mock", notification("evt_panic"), []byte(`{}`))
	require.NoError(t, err)

	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Picked: 1, Failed: 1}, stats)

	var got WebhookEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.Equal(t, StatusFailed, got.ProcessingStatus)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "processor panic")
}

func TestSweepReentrancyGuard(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), succeedAlways)

	ctx := context.Background()
	_, err := e.Ingest(ctx, "mock", notification("evt_guard"), []byte(`{}`))
	require.NoError(t, err)

	e.sweeping.Store(true)
	stats, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)

	e.sweeping.Store(false)
	stats, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Picked)
}

func TestStats(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), succeedAlways)
	ctx := context.Background()

	seed := []string{StatusSuccess, StatusSuccess, StatusSuccess, StatusDeadLetter}
	for i := range seed {
		_, err := e.Ingest(ctx, "mock", notification("evt_stat_"+string(rune('a'+i))), []byte(`{}`))
		require.NoError(t, err)
	}
	for i, status := range seed {
		err := db.Model(&WebhookEvent{}).
			Where("event_id = ?", "evt_stat_"+string(rune('a'+i))).
			Update("processing_status", status).Error
		require.NoError(t, err)
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 3, stats.Counts[StatusSuccess])
	assert.EqualValues(t, 1, stats.Counts[StatusDeadLetter])
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
}

func TestCleanupOldDeletesOnlyAgedSuccess(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, fastConfig(5), succeedAlways)
	ctx := context.Background()

	old, err := e.Ingest(ctx, "mock", notification("evt_old"), []byte(`{}`))
	require.NoError(t, err)
	recent, err := e.Ingest(ctx, "mock", notification("evt_recent"), []byte(`{}`))
	require.NoError(t, err)
	failed, err := e.Ingest(ctx, "mock", notification("evt_kept"), []byte(`{}`))
	require.NoError(t, err)

	longAgo := time.Now().AddDate(0, 0, -40)
	require.NoError(t, db.Model(&WebhookEvent{}).Where("id = ?", old.ID).
		Updates(map[string]any{"processing_status": StatusSuccess, "processed_at": longAgo}).Error)
	require.NoError(t, db.Model(&WebhookEvent{}).Where("id = ?", recent.ID).
		Updates(map[string]any{"processing_status": StatusSuccess, "processed_at": time.Now()}).Error)
	require.NoError(t, db.Model(&WebhookEvent{}).Where("id = ?", failed.ID).
		Updates(map[string]any{"processing_status": StatusFailed, "processed_at": longAgo}).Error)

	deleted, err := e.CleanupOld(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining []WebhookEvent
	require.NoError(t, db.Find(&remaining).Error)
	assert.Len(t, remaining, 2)
	for _, ev := range remaining {
		assert.NotEqual(t, old.ID, ev.ID)
	}

	_, err = e.CleanupOld(ctx, 0)
	assert.Error(t, err)
}
