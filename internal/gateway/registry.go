package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TransactionHints carries everything the registry may use to pick an
// adapter for a new payment.
type TransactionHints struct {
	Provider          string // explicit caller preference, wins when set
	PaymentMethodType string
	Country           string
	Currency          string
	AmountCents       int64
}

type RegistryConfig struct {
	// Priority lists configured provider names in fallback order. The
	// first entry is the default provider.
	Priority []string
	// Preferred maps payment method type -> provider names in preference
	// order, consulted before the eligibility probe.
	Preferred map[string][]string
	// Countries maps provider name -> supported ISO-3166 codes. An absent
	// entry means "all countries".
	Countries map[string][]string
}

type Constructor func() (Gateway, error)

// Registry owns one adapter instance per provider name. Instances are
// lazy-built and cached; construction once, reuse after.
type Registry struct {
	cfg          RegistryConfig
	constructors map[string]Constructor
	logger       *slog.Logger

	mu        sync.Mutex
	instances map[string]Gateway
}

func NewRegistry(cfg RegistryConfig, constructors map[string]Constructor) *Registry {
	return &Registry{
		cfg:          cfg,
		constructors: constructors,
		logger:       slog.Default(),
		instances:    map[string]Gateway{},
	}
}

func (r *Registry) SetLogger(logger *slog.Logger) { r.logger = logger }

// Get returns the cached adapter for name, constructing it on first use.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.instances[name]; ok {
		return g, nil
	}
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	g, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("construct provider %s: %w", name, err)
	}
	r.instances[name] = g
	return g, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.constructors))
	for _, name := range r.cfg.Priority {
		if _, ok := r.constructors[name]; ok {
			out = append(out, name)
		}
	}
	for name := range r.constructors {
		if !contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) supportsCountry(name, country string) bool {
	if country == "" {
		return true
	}
	countries, ok := r.cfg.Countries[name]
	if !ok {
		return true
	}
	return contains(countries, country)
}

// Resolve picks the adapter for a transaction:
//  1. explicit caller preference
//  2. preferred provider list for the payment method type, filtered by country
//  3. eligibility probe over the priority order (skip ineligible/erroring)
//  4. first configured provider
//  5. mock fallback
func (r *Registry) Resolve(ctx context.Context, hints TransactionHints) (Gateway, error) {
	if hints.Provider != "" {
		return r.Get(hints.Provider)
	}

	if hints.PaymentMethodType != "" {
		for _, name := range r.cfg.Preferred[hints.PaymentMethodType] {
			if !r.supportsCountry(name, hints.Country) {
				continue
			}
			if g, err := r.Get(name); err == nil {
				return g, nil
			}
		}
	}

	for _, name := range r.cfg.Priority {
		if !r.supportsCountry(name, hints.Country) {
			continue
		}
		g, err := r.Get(name)
		if err != nil {
			continue
		}
		elig, err := g.GetPaymentMethodEligibility(ctx, EligibilityRequest{
			PaymentMethodType: hints.PaymentMethodType,
			Country:           hints.Country,
			Currency:          hints.Currency,
			AmountCents:       hints.AmountCents,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "eligibility probe failed, skipping provider",
				"provider", name, "err", err)
			continue
		}
		if elig.Eligible {
			return g, nil
		}
	}

	if len(r.cfg.Priority) > 0 {
		if g, err := r.Get(r.cfg.Priority[0]); err == nil {
			return g, nil
		}
	}

	return r.Get("mock")
}

type AggregateHealth struct {
	Status    string // healthy|degraded
	Providers map[string]HealthStatus
	CheckedAt time.Time
}

// HealthCheckAll probes every registered adapter concurrently. A panic or
// slow check in one adapter never hides the others.
func (r *Registry) HealthCheckAll(ctx context.Context) AggregateHealth {
	names := r.Names()
	results := make(map[string]HealthStatus, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			hs := r.checkOne(ctx, name)
			mu.Lock()
			results[name] = hs
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	agg := AggregateHealth{Status: "healthy", Providers: results, CheckedAt: time.Now()}
	for _, hs := range results {
		if !hs.Healthy {
			agg.Status = "degraded"
			break
		}
	}
	return agg
}

func (r *Registry) checkOne(ctx context.Context, name string) (hs HealthStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			hs = HealthStatus{Healthy: false, Detail: fmt.Sprintf("health check panic: %v", rec), CheckedAt: time.Now()}
		}
	}()
	g, err := r.Get(name)
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error(), CheckedAt: time.Now()}
	}
	return g.HealthCheck(ctx)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
