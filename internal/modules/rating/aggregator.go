// README: Rating aggregator records one rating per ride direction and keeps driver summaries current.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

const (
	MinStars = 1
	MaxStars = 5
)

type Rides interface {
	Get(ctx context.Context, id types.ID) (ride.Ride, error)
	AssignedDriver(ctx context.Context, r ride.Ride, actor types.Actor) (driver.Driver, error)
	RecordCustomerRating(ctx context.Context, r ride.Ride, rating ride.Rating) (driver.RatingSummary, error)
	RecordDriverRating(ctx context.Context, r ride.Ride, rating ride.Rating) error
}

type Drivers interface {
	ListReviews(ctx context.Context, driverID types.ID, limit int) ([]driver.Review, error)
}

type Aggregator struct {
	rides   Rides
	drivers Drivers
	log     *slog.Logger
	now     func() time.Time
}

func NewAggregator(rides Rides, drivers Drivers, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{rides: rides, drivers: drivers, log: logger.With("module", "rating"), now: time.Now}
}

func validateStars(stars int) error {
	if stars < MinStars || stars > MaxStars {
		return apperr.ValidationError{Field: "rating", Msg: fmt.Sprintf("must be between %d and %d", MinStars, MaxStars)}
	}
	return nil
}

type SubmitCommand struct {
	RideID     types.ID
	CustomerID types.ID
	// DriverID, when set, must match the ride's driver.
	DriverID types.ID
	Stars    int
	Comment  string
}

type Submission struct {
	Ride    ride.Ride
	Summary driver.RatingSummary
}

// Submit records the customer's rating of the driver and folds it into the driver's summary
// in the same commit.
func (a *Aggregator) Submit(ctx context.Context, cmd SubmitCommand) (Submission, error) {
	if err := validateStars(cmd.Stars); err != nil {
		return Submission{}, err
	}
	r, err := a.rides.Get(ctx, cmd.RideID)
	if err != nil {
		return Submission{}, err
	}
	if !r.IsCustomer(cmd.CustomerID) {
		return Submission{}, apperr.UnauthorizedError{Msg: "only the ride's customer can rate the driver"}
	}
	if r.Status != ride.StatusCompleted {
		return Submission{}, apperr.ConflictError{Resource: "rating", Msg: "ride is not completed yet"}
	}
	if r.DriverID == nil || (cmd.DriverID != "" && cmd.DriverID != *r.DriverID) {
		return Submission{}, apperr.ValidationError{Field: "driver_id", Msg: "does not match the ride"}
	}
	if r.CustomerRating != nil {
		return Submission{}, apperr.ConflictError{Resource: "rating", Msg: "ride has already been rated"}
	}

	rt := ride.Rating{Stars: cmd.Stars, Comment: cmd.Comment, At: a.now()}
	sum, err := a.rides.RecordCustomerRating(ctx, r, rt)
	if errors.Is(err, driver.ErrNotFound) {
		return Submission{}, apperr.NotFoundError{Resource: "driver", Err: err}
	}
	if err != nil {
		return Submission{}, err
	}
	r.CustomerRating = &rt
	a.log.InfoContext(ctx, "driver rated", "ride_id", r.ID, "driver_id", *r.DriverID, "stars", cmd.Stars, "average", sum.Average)
	return Submission{Ride: r, Summary: sum}, nil
}

type RateCustomerCommand struct {
	RideID  types.ID
	Actor   types.Actor
	Stars   int
	Comment string
}

// RateCustomer records the assigned driver's rating of the customer, once per ride.
func (a *Aggregator) RateCustomer(ctx context.Context, cmd RateCustomerCommand) (ride.Ride, error) {
	if err := validateStars(cmd.Stars); err != nil {
		return ride.Ride{}, err
	}
	r, err := a.rides.Get(ctx, cmd.RideID)
	if err != nil {
		return ride.Ride{}, err
	}
	if _, err := a.rides.AssignedDriver(ctx, r, cmd.Actor); err != nil {
		return ride.Ride{}, err
	}
	if r.Status != ride.StatusCompleted {
		return ride.Ride{}, apperr.ConflictError{Resource: "rating", Msg: "ride is not completed yet"}
	}
	rt := ride.Rating{Stars: cmd.Stars, Comment: cmd.Comment, At: a.now()}
	if err := a.rides.RecordDriverRating(ctx, r, rt); err != nil {
		return ride.Ride{}, err
	}
	r.DriverRating = &rt
	return r, nil
}

func (a *Aggregator) Reviews(ctx context.Context, driverID types.ID, limit int) ([]driver.Review, error) {
	return a.drivers.ListReviews(ctx, driverID, limit)
}
