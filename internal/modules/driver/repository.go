// README: Driver repository contract; implementations return value snapshots.
package driver

import (
	"context"
	"time"

	"rideflow/internal/types"
)

type Repository interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (Driver, error)
	GetByUserID(ctx context.Context, userID types.ID) (Driver, error)

	// Reserve flips an approved, online, available driver to unavailable and binds rideID.
	// It reports false when the driver no longer matches.
	Reserve(ctx context.Context, driverID, rideID types.ID) (bool, error)
	// FinishRide credits earned to total and available, and frees the driver only while it
	// is still bound to rideID.
	FinishRide(ctx context.Context, driverID, rideID types.ID, earned int64) error
	SetLocation(ctx context.Context, driverID types.ID, p types.Point) error
	SetOnline(ctx context.Context, driverID types.ID, online bool) error

	// ReserveWithdrawal decrements available and records w only when available >= w.Amount.
	ReserveWithdrawal(ctx context.Context, w Withdrawal) (bool, error)
	SettleWithdrawal(ctx context.Context, withdrawalID types.ID, success bool, at time.Time) (Withdrawal, error)

	ApplyRating(ctx context.Context, driverID types.ID, r Review) (RatingSummary, error)
	ListReviews(ctx context.Context, driverID types.ID, limit int) ([]Review, error)
}
