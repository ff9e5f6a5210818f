// README: Service rate definition and fare quote for each service type.
package pricing

import "rideflow/internal/types"

// DefaultCommissionRate is the platform share of a completed fare.
const DefaultCommissionRate = 0.02

// Rate amounts are in minor currency units.
type Rate struct {
	ServiceType string
	BaseFare    int64
	PerKm       int64
	PerMinute   int64
	MinimumFare int64
	Currency    string
}

type Quote struct {
	ServiceType string
	DistanceKm  float64
	DurationMin float64
	Total       types.Money
	Breakdown   map[string]int64
}
