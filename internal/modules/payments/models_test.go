package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Column types declared on the models must scan back under both the mysql
// and the sqlite driver; a precision-qualified decltype breaks the latter.
func TestModelTimestampsScanOnSQLite(t *testing.T) {
	svc, _, db := testSetup(t)
	ctx := context.Background()

	res, err := svc.CreateIntent(ctx, createInput("key-ts"))
	require.NoError(t, err)

	var got PaymentIntent
	require.NoError(t, db.First(&got, "id = ?", res.Intent.ID).Error)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	var events []IntentStatusEvent
	require.NoError(t, db.Where("intent_id = ?", got.ID).Find(&events).Error)
	require.NotEmpty(t, events)
	assert.False(t, events[0].CreatedAt.IsZero())
}
