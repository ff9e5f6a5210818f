// README: Pricing service computes fares and platform commission.
package pricing

import (
	"context"
	"fmt"
	"math"

	"rideflow/internal/types"
)

type RateStore interface {
	GetRate(ctx context.Context, serviceType string) (Rate, error)
}

type Service struct {
	store          RateStore
	commissionRate float64
}

// NewService falls back to DefaultCommissionRate only for a negative rate; zero is a valid
// commission-free configuration.
func NewService(store RateStore, commissionRate float64) *Service {
	if commissionRate < 0 {
		commissionRate = DefaultCommissionRate
	}
	return &Service{store: store, commissionRate: commissionRate}
}

// Fare is base + distance + duration, floored at the minimum fare.
func Fare(r Rate, distanceKm, durationMin float64) types.Money {
	total := float64(r.BaseFare) + distanceKm*float64(r.PerKm) + durationMin*float64(r.PerMinute)
	amount := int64(math.Round(total))
	if amount < r.MinimumFare {
		amount = r.MinimumFare
	}
	return types.Money{Amount: amount, Currency: r.Currency}
}

// Commission returns fare × rate rounded to the minor unit.
func Commission(fare types.Money, rate float64) types.Money {
	return fare.MulRate(rate)
}

func (s *Service) CommissionRate() float64 {
	return s.commissionRate
}

func (s *Service) Quote(ctx context.Context, serviceType string, distanceKm, durationMin float64) (Quote, error) {
	if distanceKm < 0 || durationMin < 0 {
		return Quote{}, fmt.Errorf("pricing: negative distance or duration")
	}
	r, err := s.store.GetRate(ctx, serviceType)
	if err != nil {
		return Quote{}, err
	}
	total := Fare(r, distanceKm, durationMin)
	return Quote{
		ServiceType: serviceType,
		DistanceKm:  distanceKm,
		DurationMin: durationMin,
		Total:       total,
		Breakdown: map[string]int64{
			"base":     r.BaseFare,
			"distance": int64(math.Round(distanceKm * float64(r.PerKm))),
			"duration": int64(math.Round(durationMin * float64(r.PerMinute))),
			"minimum":  r.MinimumFare,
		},
	}, nil
}
