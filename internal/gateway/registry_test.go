package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConstructors(mocks map[string]*Mock) map[string]Constructor {
	out := make(map[string]Constructor, len(mocks))
	for name, m := range mocks {
		m := m
		out[name] = func() (Gateway, error) { return m, nil }
	}
	return out
}

func TestRegistryGetCachesInstances(t *testing.T) {
	built := 0
	r := NewRegistry(RegistryConfig{Priority: []string{"mock"}}, map[string]Constructor{
		"mock": func() (Gateway, error) {
			built++
			return NewMock(), nil
		},
	})

	a, err := r.Get("mock")
	require.NoError(t, err)
	b, err := r.Get("mock")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, built)

	_, err = r.Get("nope")
	assert.Error(t, err)
}

func TestResolveExplicitPreferenceWins(t *testing.T) {
	a, b := NewMock(), NewMock()
	r := NewRegistry(
		RegistryConfig{Priority: []string{"alpha", "beta"}},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b}),
	)

	g, err := r.Resolve(context.Background(), TransactionHints{Provider: "beta"})
	require.NoError(t, err)
	assert.Same(t, Gateway(b), g)
	// no eligibility probe when the caller pins the provider
	assert.Equal(t, 0, a.Calls["GetPaymentMethodEligibility"])
	assert.Equal(t, 0, b.Calls["GetPaymentMethodEligibility"])
}

func TestResolvePreferredListFilteredByCountry(t *testing.T) {
	a, b := NewMock(), NewMock()
	r := NewRegistry(
		RegistryConfig{
			Priority:  []string{"alpha", "beta"},
			Preferred: map[string][]string{"ideal": {"alpha", "beta"}},
			Countries: map[string][]string{"alpha": {"DE", "FR"}},
		},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b}),
	)

	// alpha does not serve NL, so the preferred list falls through to beta
	g, err := r.Resolve(context.Background(), TransactionHints{
		PaymentMethodType: "ideal",
		Country:           "NL",
	})
	require.NoError(t, err)
	assert.Same(t, Gateway(b), g)

	g, err = r.Resolve(context.Background(), TransactionHints{
		PaymentMethodType: "ideal",
		Country:           "DE",
	})
	require.NoError(t, err)
	assert.Same(t, Gateway(a), g)
}

func TestResolveEligibilityProbeSkipsIneligible(t *testing.T) {
	a, b := NewMock(), NewMock()
	a.Ineligible = true
	r := NewRegistry(
		RegistryConfig{Priority: []string{"alpha", "beta"}},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b}),
	)

	g, err := r.Resolve(context.Background(), TransactionHints{
		PaymentMethodType: "sepa_debit",
		Currency:          "EUR",
	})
	require.NoError(t, err)
	assert.Same(t, Gateway(b), g)
	assert.Equal(t, 1, a.Calls["GetPaymentMethodEligibility"])
	assert.Equal(t, 1, b.Calls["GetPaymentMethodEligibility"])
}

func TestResolveFallsBackToFirstConfigured(t *testing.T) {
	a, b := NewMock(), NewMock()
	a.Ineligible = true
	b.Ineligible = true
	r := NewRegistry(
		RegistryConfig{Priority: []string{"alpha", "beta"}},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b}),
	)

	// nobody eligible: default to the first configured provider
	g, err := r.Resolve(context.Background(), TransactionHints{PaymentMethodType: "card"})
	require.NoError(t, err)
	assert.Same(t, Gateway(a), g)
}

func TestResolveMockFallbackWhenNothingConfigured(t *testing.T) {
	m := NewMock()
	r := NewRegistry(RegistryConfig{}, mockConstructors(map[string]*Mock{"mock": m}))

	g, err := r.Resolve(context.Background(), TransactionHints{})
	require.NoError(t, err)
	assert.Same(t, Gateway(m), g)
}

func TestHealthCheckAllAggregates(t *testing.T) {
	a, b := NewMock(), NewMock()
	r := NewRegistry(
		RegistryConfig{Priority: []string{"alpha", "beta"}},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b}),
	)

	agg := r.HealthCheckAll(context.Background())
	assert.Equal(t, "healthy", agg.Status)
	require.Len(t, agg.Providers, 2)
	assert.True(t, agg.Providers["alpha"].Healthy)
	assert.True(t, agg.Providers["beta"].Healthy)

	b.Unhealthy = true
	agg = r.HealthCheckAll(context.Background())
	assert.Equal(t, "degraded", agg.Status)
	assert.True(t, agg.Providers["alpha"].Healthy)
	assert.False(t, agg.Providers["beta"].Healthy)
}

func TestNamesFollowsPriorityOrder(t *testing.T) {
	a, b, c := NewMock(), NewMock(), NewMock()
	r := NewRegistry(
		RegistryConfig{Priority: []string{"beta", "alpha"}},
		mockConstructors(map[string]*Mock{"alpha": a, "beta": b, "gamma": c}),
	)

	names := r.Names()
	require.Len(t, names, 3)
	assert.Equal(t, "beta", names[0])
	assert.Equal(t, "alpha", names[1])
	assert.Contains(t, names, "gamma")
}
