package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeListChargesPaginates(t *testing.T) {
	charges := make([]stripeCharge, 5)
	for i := range charges {
		charges[i] = stripeCharge{
			ID:       fmt.Sprintf("ch_%d", i+1),
			Status:   "succeeded",
			Amount:   1000,
			Currency: "eur",
			Created:  time.Now().Unix(),
		}
	}

	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.LessOrEqual(t, len(query["starting_after"]), 1,
			"cursor parameter must be replaced per page, not appended")
		cursor := query.Get("starting_after")
		cursors = append(cursors, cursor)

		start := 0
		for i, ch := range charges {
			if ch.ID == cursor {
				start = i + 1
			}
		}
		end := start + 2
		if end > len(charges) {
			end = len(charges)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":     charges[start:end],
			"has_more": end < len(charges),
		})
	}))
	defer srv.Close()

	s := NewStripe(StripeConfig{APIKey: "sk_test", BaseURL: srv.URL})

	got, err := s.ListCharges(context.Background(), ChargeQuery{
		Start: time.Now().Add(-time.Hour),
		End:   time.Now(),
		Limit: 2,
	})
	require.NoError(t, err)

	require.Len(t, got, 5)
	for i, ch := range got {
		assert.Equal(t, fmt.Sprintf("ch_%d", i+1), ch.ProviderChargeID)
		assert.Equal(t, ChargeSucceeded, ch.Status)
		assert.Equal(t, "EUR", ch.Currency)
	}
	assert.Equal(t, []string{"", "ch_2", "ch_4"}, cursors)
}

func TestStripeListChargesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []stripeCharge{}, "has_more": false})
	}))
	defer srv.Close()

	s := NewStripe(StripeConfig{APIKey: "sk_test", BaseURL: srv.URL})
	got, err := s.ListCharges(context.Background(), ChargeQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}
