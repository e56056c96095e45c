package gateway

import (
	"os"
	"strings"
)

// FromEnv wires the registry from environment configuration.
//
//	GATEWAY_PROVIDERS           comma list in priority order (default "mock")
//	GATEWAY_PREFERRED_<TYPE>    comma list per payment method type
//	GATEWAY_COUNTRIES_<NAME>    comma list of supported countries per provider
//	STRIPE_API_KEY, STRIPE_BASE_URL, STRIPE_WEBHOOK_SECRET
//	ADYEN_API_KEY, ADYEN_MERCHANT_ACCOUNT, ADYEN_BASE_URL, ADYEN_HMAC_KEY
//	MOCK_WEBHOOK_SECRET
func FromEnv() *Registry {
	priority := splitList(envOr("GATEWAY_PROVIDERS", "mock"))

	cfg := RegistryConfig{
		Priority:  priority,
		Preferred: map[string][]string{},
		Countries: map[string][]string{},
	}
	for _, methodType := range []string{"card", "sepa_debit", "ideal"} {
		key := "GATEWAY_PREFERRED_" + strings.ToUpper(methodType)
		if v := os.Getenv(key); v != "" {
			cfg.Preferred[methodType] = splitList(v)
		}
	}

	constructors := map[string]Constructor{
		"mock": func() (Gateway, error) {
			m := NewMock()
			m.WebhookSecret = os.Getenv("MOCK_WEBHOOK_SECRET")
			return m, nil
		},
	}
	for _, name := range priority {
		if v := os.Getenv("GATEWAY_COUNTRIES_" + strings.ToUpper(name)); v != "" {
			cfg.Countries[name] = splitList(v)
		}
		switch name {
		case "stripe":
			constructors["stripe"] = func() (Gateway, error) {
				return NewStripe(StripeConfig{
					APIKey:        os.Getenv("STRIPE_API_KEY"),
					BaseURL:       os.Getenv("STRIPE_BASE_URL"),
					WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
				}), nil
			}
		case "adyen":
			constructors["adyen"] = func() (Gateway, error) {
				return NewAdyen(AdyenConfig{
					APIKey:          os.Getenv("ADYEN_API_KEY"),
					MerchantAccount: os.Getenv("ADYEN_MERCHANT_ACCOUNT"),
					BaseURL:         os.Getenv("ADYEN_BASE_URL"),
					HMACKey:         os.Getenv("ADYEN_HMAC_KEY"),
				}), nil
			}
		}
	}

	return NewRegistry(cfg, constructors)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
