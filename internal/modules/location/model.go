// README: Location values exchanged between drivers, the geo index and nearby queries.
package location

import (
	"time"

	"rideflow/internal/types"
)

const DefaultRadiusKm = 5.0

type Update struct {
	DriverUserID types.ID
	Point        types.Point
	At           time.Time
}

// Nearby is a driver position with its distance from the queried origin.
type Nearby struct {
	DriverID   types.ID    `json:"driver_id"`
	Point      types.Point `json:"point"`
	DistanceKm float64     `json:"distance_km"`
}
