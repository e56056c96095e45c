package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payline.dev/app/internal/alert"
	"payline.dev/app/internal/archive"
	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
)

var ErrRunInProgress = errors.New("reconciliation run already in progress")

type Config struct {
	StdDevMultiplier    float64       // default 2.0
	RapidWindow         time.Duration // default 60m
	RapidCount          int           // default 5
	FailureClusterCount int           // default 3
}

func DefaultConfig() Config {
	return Config{
		StdDevMultiplier:    2.0,
		RapidWindow:         time.Hour,
		RapidCount:          5,
		FailureClusterCount: 3,
	}
}

// Engine audits local payment records against provider-side truth. It only
// reads payment data and only reports; drift is never auto-corrected.
type Engine struct {
	db       *gorm.DB
	registry *gateway.Registry
	cfg      Config
	logger   *slog.Logger
	archive  archive.Archive
	notifier alert.Notifier

	running atomic.Bool
}

func NewEngine(db *gorm.DB, registry *gateway.Registry, cfg Config) *Engine {
	if cfg.StdDevMultiplier <= 0 {
		cfg.StdDevMultiplier = 2.0
	}
	if cfg.RapidWindow <= 0 {
		cfg.RapidWindow = time.Hour
	}
	if cfg.RapidCount <= 0 {
		cfg.RapidCount = 5
	}
	if cfg.FailureClusterCount <= 0 {
		cfg.FailureClusterCount = 3
	}
	return &Engine{db: db, registry: registry, cfg: cfg, logger: slog.Default()}
}

func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }
func (e *Engine) SetArchive(a archive.Archive)  { e.archive = a }
func (e *Engine) SetNotifier(n alert.Notifier)  { e.notifier = n }

// ReconcilePayments compares local charges in [start, end] against the
// providers' reported records. Overlapping runs are rejected; in-flight
// writes are picked up by a later run over the same range, not by locking.
func (e *Engine) ReconcilePayments(ctx context.Context, start, end time.Time, providerFilter string) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	began := time.Now()

	providers := e.registry.Names()
	if providerFilter != "" {
		providers = []string{providerFilter}
	}

	var local []payments.Charge
	err := e.db.WithContext(ctx).
		Where("provider IN ?", providers).
		Where("created_at >= ? AND created_at <= ?", start, end).
		Find(&local).Error
	if err != nil {
		return Report{}, err
	}

	remote := map[string]gateway.ChargeResult{}
	for _, name := range providers {
		adapter, err := e.registry.Get(name)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unknown provider in reconciliation", "provider", name, "err", err)
			continue
		}
		charges, err := adapter.ListCharges(ctx, gateway.ChargeQuery{Start: start, End: end})
		if err != nil {
			return Report{}, fmt.Errorf("list charges from %s: %w", name, err)
		}
		for _, ch := range charges {
			remote[ch.ProviderChargeID] = ch
		}
	}

	report := Report{
		Providers:     providers,
		Start:         start,
		End:           end,
		TotalLocal:    len(local),
		TotalProvider: len(remote),
	}

	seen := map[string]bool{}
	for _, lc := range local {
		rc, ok := remote[lc.ProviderChargeID]
		if !ok {
			report.LocalOnly = append(report.LocalOnly, lc)
			continue
		}
		seen[lc.ProviderChargeID] = true

		diffs := diffCharge(lc, rc)
		if len(diffs) == 0 {
			report.Matched++
			continue
		}
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			ProviderChargeID: lc.ProviderChargeID,
			LocalChargeID:    lc.ID,
			Diffs:            diffs,
		})
	}
	for id, rc := range remote {
		if !seen[id] {
			report.ProviderOnly = append(report.ProviderOnly, rc)
		}
	}

	report.GeneratedAt = time.Now()
	report.Duration = time.Since(began)

	if err := e.finishRun(ctx, &report); err != nil {
		// The report itself is still good; audit bookkeeping failure is
		// logged, not fatal.
		e.logger.ErrorContext(ctx, "failed to record reconciliation run", "err", err)
	}
	return report, nil
}

func diffCharge(lc payments.Charge, rc gateway.ChargeResult) []FieldDiff {
	var diffs []FieldDiff
	if lc.AmountCents != rc.AmountCents {
		diffs = append(diffs, FieldDiff{
			Field:    "amount",
			Local:    strconv.FormatInt(lc.AmountCents, 10),
			Provider: strconv.FormatInt(rc.AmountCents, 10),
		})
	}
	if lc.Status != string(rc.Status) {
		diffs = append(diffs, FieldDiff{Field: "status", Local: lc.Status, Provider: string(rc.Status)})
	}
	if !strings.EqualFold(lc.Currency, rc.Currency) {
		diffs = append(diffs, FieldDiff{Field: "currency", Local: lc.Currency, Provider: rc.Currency})
	}
	return diffs
}

// finishRun persists the compact audit row, archives the full report and
// raises an operator alert when drift was found.
func (e *Engine) finishRun(ctx context.Context, report *Report) error {
	var archiveKey *string
	if e.archive != nil {
		raw, err := json.Marshal(report)
		if err == nil {
			name := fmt.Sprintf("reconcile-%s.json", report.GeneratedAt.Format("20060102-150405"))
			res, err := e.archive.Put(ctx, bytes.NewReader(raw), archive.PutInput{
				Name:        name,
				ContentType: "application/json",
				Size:        int64(len(raw)),
			})
			if err != nil {
				e.logger.WarnContext(ctx, "report archive failed", "err", err)
			} else {
				archiveKey = &res.Key
			}
		}
	}

	run := ReconciliationRun{
		ID:               uuid.NewString(),
		Providers:        strings.Join(report.Providers, ","),
		RangeFrom:        report.Start,
		RangeTo:          report.End,
		TotalLocal:       report.TotalLocal,
		TotalProvider:    report.TotalProvider,
		Matched:          report.Matched,
		DiscrepancyCount: len(report.Discrepancies),
		LocalOnlyCount:   len(report.LocalOnly),
		ProviderOnly:     len(report.ProviderOnly),
		DurationMS:       report.Duration.Milliseconds(),
		ArchiveKey:       archiveKey,
		CreatedAt:        time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(&run).Error; err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "reconciliation run finished",
		"providers", run.Providers,
		"local", run.TotalLocal, "provider", run.TotalProvider, "matched", run.Matched,
		"discrepancies", run.DiscrepancyCount, "local_only", run.LocalOnlyCount,
		"provider_only", run.ProviderOnly, "duration_ms", run.DurationMS)

	if !report.Clean() && e.notifier != nil {
		_ = e.notifier.Notify(ctx, alert.Alert{
			Severity: alert.SeverityWarning,
			Subject:  "Payment reconciliation found drift",
			Body: fmt.Sprintf("window=%s..%s discrepancies=%d local_only=%d provider_only=%d",
				report.Start.Format(time.RFC3339), report.End.Format(time.RFC3339),
				len(report.Discrepancies), len(report.LocalOnly), len(report.ProviderOnly)),
			Tags: map[string]string{"providers": run.Providers},
		})
	}
	return nil
}
