package reconcile

import (
	"time"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
)

// FieldDiff records one field disagreeing between the local charge and the
// provider's record.
type FieldDiff struct {
	Field    string `json:"field"` // amount|status|currency
	Local    string `json:"local"`
	Provider string `json:"provider"`
}

type Discrepancy struct {
	ProviderChargeID string      `json:"provider_charge_id"`
	LocalChargeID    string      `json:"local_charge_id"`
	Diffs            []FieldDiff `json:"diffs"`
}

// Report is the per-run reconciliation output. It is ephemeral; only a
// compact ReconciliationRun row is kept durably, plus an optional archived
// JSON copy of the full report.
type Report struct {
	Providers []string  `json:"providers"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`

	TotalLocal    int `json:"total_local"`
	TotalProvider int `json:"total_provider"`
	Matched       int `json:"matched"`

	Discrepancies []Discrepancy          `json:"discrepancies"`
	LocalOnly     []payments.Charge      `json:"local_only"`
	ProviderOnly  []gateway.ChargeResult `json:"provider_only"`

	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration"`
}

func (r *Report) Clean() bool {
	return len(r.Discrepancies) == 0 && len(r.LocalOnly) == 0 && len(r.ProviderOnly) == 0
}

// ReconciliationRun is the compact audit row persisted per run.
type ReconciliationRun struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Providers string    `gorm:"type:varchar(255);not null"`
	RangeFrom time.Time `gorm:"type:datetime;not null"`
	RangeTo   time.Time `gorm:"type:datetime;not null"`

	TotalLocal       int `gorm:"not null"`
	TotalProvider    int `gorm:"not null"`
	Matched          int `gorm:"not null"`
	DiscrepancyCount int `gorm:"not null"`
	LocalOnlyCount   int `gorm:"not null"`
	ProviderOnly     int `gorm:"not null;column:provider_only_count"`

	DurationMS int64   `gorm:"not null"`
	ArchiveKey *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"type:datetime;not null"`
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }
