package reconcile

import (
	"context"
	"math"
	"sort"
	"time"

	"payline.dev/app/internal/gateway"
	"payline.dev/app/internal/modules/payments"
)

// Anomaly detectors flag suspicious activity over a period. They are
// independent of the reconciliation diff and, like it, report only.

type AmountOutlier struct {
	Charge    payments.Charge `json:"charge"`
	Mean      float64         `json:"mean"`
	StdDev    float64         `json:"std_dev"`
	Threshold float64         `json:"threshold"`
}

// AmountOutliers flags succeeded charges whose amount exceeds
// mean + k*stddev over the period.
func (e *Engine) AmountOutliers(ctx context.Context, start, end time.Time) ([]AmountOutlier, error) {
	charges, err := e.succeededCharges(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return nil, nil
	}

	var sum float64
	for _, ch := range charges {
		sum += float64(ch.AmountCents)
	}
	mean := sum / float64(len(charges))

	var variance float64
	for _, ch := range charges {
		d := float64(ch.AmountCents) - mean
		variance += d * d
	}
	variance /= float64(len(charges))
	stddev := math.Sqrt(variance)

	threshold := mean + e.cfg.StdDevMultiplier*stddev

	var out []AmountOutlier
	for _, ch := range charges {
		if float64(ch.AmountCents) > threshold {
			out = append(out, AmountOutlier{Charge: ch, Mean: mean, StdDev: stddev, Threshold: threshold})
		}
	}
	return out, nil
}

type RapidPaymentCluster struct {
	CustomerRef string    `json:"customer_ref"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// RapidRepeatPayments flags customers with RapidCount or more succeeded
// charges inside a sliding RapidWindow.
func (e *Engine) RapidRepeatPayments(ctx context.Context, start, end time.Time) ([]RapidPaymentCluster, error) {
	charges, err := e.succeededCharges(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byCustomer := map[string][]time.Time{}
	for _, ch := range charges {
		if ch.CustomerRef == "" {
			continue
		}
		byCustomer[ch.CustomerRef] = append(byCustomer[ch.CustomerRef], ch.CreatedAt)
	}

	var clusters []RapidPaymentCluster
	for customer, times := range byCustomer {
		if len(times) < e.cfg.RapidCount {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		lo := 0
		for hi := range times {
			for times[hi].Sub(times[lo]) > e.cfg.RapidWindow {
				lo++
			}
			if hi-lo+1 >= e.cfg.RapidCount {
				clusters = append(clusters, RapidPaymentCluster{
					CustomerRef: customer,
					Count:       hi - lo + 1,
					WindowStart: times[lo],
					WindowEnd:   times[hi],
				})
				break
			}
		}
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].CustomerRef < clusters[j].CustomerRef })
	return clusters, nil
}

type FailureCluster struct {
	CustomerRef string `json:"customer_ref"`
	Count       int    `json:"count"`
}

// FailureClusters flags customers with FailureClusterCount or more
// canceled/failed intents in the period.
func (e *Engine) FailureClusters(ctx context.Context, start, end time.Time) ([]FailureCluster, error) {
	var rows []struct {
		CustomerRef string
		N           int
	}
	err := e.db.WithContext(ctx).Model(&payments.PaymentIntent{}).
		Select("customer_ref, COUNT(*) AS n").
		Where("status IN ?", []string{string(gateway.IntentCanceled), string(gateway.IntentFailed)}).
		Where("created_at >= ? AND created_at <= ?", start, end).
		Where("customer_ref <> ''").
		Group("customer_ref").
		Having("COUNT(*) >= ?", e.cfg.FailureClusterCount).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	clusters := make([]FailureCluster, 0, len(rows))
	for _, r := range rows {
		clusters = append(clusters, FailureCluster{CustomerRef: r.CustomerRef, Count: r.N})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].CustomerRef < clusters[j].CustomerRef })
	return clusters, nil
}

func (e *Engine) succeededCharges(ctx context.Context, start, end time.Time) ([]payments.Charge, error) {
	var charges []payments.Charge
	err := e.db.WithContext(ctx).
		Where("status IN ?", []string{string(gateway.ChargeSucceeded), string(gateway.ChargeRefunded)}).
		Where("created_at >= ? AND created_at <= ?", start, end).
		Order("created_at ASC").
		Find(&charges).Error
	return charges, err
}
