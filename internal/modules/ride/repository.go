// README: Ride repository contract; implementations return value snapshots.
package ride

import (
	"context"
	"errors"

	"rideflow/internal/modules/driver"
	"rideflow/internal/types"
)

var (
	ErrNotFound          = errors.New("ride not found")
	ErrConflict          = errors.New("ride state conflict")
	ErrActiveRide        = errors.New("customer has active ride")
	ErrDriverUnavailable = errors.New("driver is not available")
)

// DriverBinding is the part of the driver repository that commits together with a ride.
type DriverBinding interface {
	Reserve(ctx context.Context, driverID, rideID types.ID) (bool, error)
	FinishRide(ctx context.Context, driverID, rideID types.ID, earned int64) error
	ApplyRating(ctx context.Context, driverID types.ID, r driver.Review) (driver.RatingSummary, error)
}

type Repository interface {
	// Create inserts r with its first timeline entry and reserves r's driver in the same commit.
	// ErrActiveRide if the customer already owns an active ride, ErrDriverUnavailable if the
	// driver cannot be reserved.
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (Ride, error)
	HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error)
	// Transition applies c only while the ride still has c.From and c.Version; ErrConflict otherwise.
	// Entering a terminal status credits the fare and frees the driver in the same commit.
	Transition(ctx context.Context, c Change) (Ride, error)
	SetPaymentStatus(ctx context.Context, id types.ID, from, to PaymentStatus) (bool, error)
	// SetCustomerRating records the customer's rating of the driver once, on a completed ride,
	// and folds it into the driver's summary in the same commit.
	SetCustomerRating(ctx context.Context, id, customerID types.ID, r Rating) (driver.RatingSummary, bool, error)
	// SetDriverRating records the driver's rating of the customer once, on a completed ride.
	SetDriverRating(ctx context.Context, id, driverID types.ID, r Rating) (bool, error)
}

// earned is the amount a terminal change credits to the driver.
func (c Change) earned() int64 {
	if c.Completion == nil || c.Completion.ActualFare.Amount < 0 {
		return 0
	}
	return c.Completion.ActualFare.Amount
}
