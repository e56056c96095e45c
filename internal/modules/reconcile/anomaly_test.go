package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
)

func seedIntent(t *testing.T, db *gorm.DB, customerRef, status string, createdAt time.Time) {
	t.Helper()
	in := payments.PaymentIntent{
		ID:                 uuid.NewString(),
		Provider:           "mock",
		CustomerRef:        customerRef,
		AmountCents:        1000,
		Currency:           "EUR",
		Status:             status,
		CaptureMethod:      "automatic",
		ConfirmationMethod: "automatic",
		IdempotencyKey:     uuid.NewString(),
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	require.NoError(t, db.Create(&in).Error)
}

func TestAmountOutliers(t *testing.T) {
	e, _, db := testSetup(t)
	ctx := context.Background()

	now := time.Now()
	// ten routine charges and one outlier far beyond mean + 2*stddev
	for i := 0; i < 10; i++ {
		seedLocalCharge(t, db, uuid.NewString(), 1000, string(gateway.ChargeSucceeded), now)
	}
	big := seedLocalCharge(t, db, "ch_big", 50000, string(gateway.ChargeSucceeded), now)

	outliers, err := e.AmountOutliers(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, outliers, 1)
	assert.Equal(t, big.ID, outliers[0].Charge.ID)
	assert.Greater(t, outliers[0].Threshold, outliers[0].Mean)
}

func TestAmountOutliersUniformAmounts(t *testing.T) {
	e, _, db := testSetup(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 5; i++ {
		seedLocalCharge(t, db, uuid.NewString(), 1000, string(gateway.ChargeSucceeded), now)
	}

	// zero variance: nothing strictly exceeds the threshold
	outliers, err := e.AmountOutliers(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, outliers)
}

func TestAmountOutliersEmptyWindow(t *testing.T) {
	e, _, _ := testSetup(t)
	outliers, err := e.AmountOutliers(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, outliers)
}

func TestRapidRepeatPayments(t *testing.T) {
	e, _, db := testSetup(t)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Hour)

	// five charges inside ten minutes for one customer
	for i := 0; i < 5; i++ {
		ch := seedLocalCharge(t, db, uuid.NewString(), 1000, string(gateway.ChargeSucceeded), base.Add(time.Duration(i)*2*time.Minute))
		require.NoError(t, db.Model(&payments.Charge{}).Where("id = ?", ch.ID).
			Update("customer_ref", "cus_rapid").Error)
	}

	// five charges spread over five hours for another: outside the window
	for i := 0; i < 5; i++ {
		ch := seedLocalCharge(t, db, uuid.NewString(), 1000, string(gateway.ChargeSucceeded), base.Add(time.Duration(i)*75*time.Minute))
		require.NoError(t, db.Model(&payments.Charge{}).Where("id = ?", ch.ID).
			Update("customer_ref", "cus_slow").Error)
	}

	clusters, err := e.RapidRepeatPayments(ctx, base.Add(-time.Hour), base.Add(8*time.Hour))
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "cus_rapid", clusters[0].CustomerRef)
	assert.Equal(t, 5, clusters[0].Count)
	assert.True(t, clusters[0].WindowEnd.Sub(clusters[0].WindowStart) <= e.cfg.RapidWindow)
}

func TestFailureClusters(t *testing.T) {
	e, _, db := testSetup(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		seedIntent(t, db, "cus_flaky", string(gateway.IntentFailed), now)
	}
	seedIntent(t, db, "cus_flaky", string(gateway.IntentCanceled), now)
	seedIntent(t, db, "cus_fine", string(gateway.IntentFailed), now)
	seedIntent(t, db, "cus_fine", string(gateway.IntentSucceeded), now)
	seedIntent(t, db, "", string(gateway.IntentFailed), now)

	clusters, err := e.FailureClusters(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "cus_flaky", clusters[0].CustomerRef)
	assert.Equal(t, 4, clusters[0].Count)
}
