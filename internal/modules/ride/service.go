// README: Ride service validates transitions, commits them with compare-and-set, then runs post-commit effects.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/payment"
	"rideflow/internal/modules/pricing"
	"rideflow/internal/types"
)

const DefaultSideEffectTimeout = 3 * time.Second

type DriverStore interface {
	Get(ctx context.Context, id types.ID) (driver.Driver, error)
	GetByUserID(ctx context.Context, userID types.ID) (driver.Driver, error)
}

type Pricing interface {
	Quote(ctx context.Context, serviceType string, distanceKm, durationMin float64) (pricing.Quote, error)
	CommissionRate() float64
}

type LocationUpdater interface {
	UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error
}

type Deps struct {
	Store             Repository
	Drivers           DriverStore
	Pricing           Pricing
	Payments          payment.Gateway
	Locations         LocationUpdater
	Logger            *slog.Logger
	SideEffectTimeout time.Duration
	Now               func() time.Time
}

type Service struct {
	store     Repository
	drivers   DriverStore
	pricing   Pricing
	payments  payment.Gateway
	locations LocationUpdater
	log       *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		drivers:   d.Drivers,
		pricing:   d.Pricing,
		payments:  d.Payments,
		locations: d.Locations,
		log:       d.Logger,
		timeout:   d.SideEffectTimeout,
		now:       d.Now,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	s.log = s.log.With("module", "ride")
	if s.timeout <= 0 {
		s.timeout = DefaultSideEffectTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateCommand struct {
	ID            types.ID
	CustomerID    types.ID
	DriverID      types.ID
	ServiceType   string
	Pickup        types.Place
	Dropoff       types.Place
	EstimatedFare types.Money
	PaymentMethod PaymentMethod
}

func (c CreateCommand) Validate() error {
	switch {
	case c.CustomerID == "":
		return apperr.ValidationError{Field: "customer_id", Msg: "is required"}
	case c.DriverID == "":
		return apperr.ValidationError{Field: "driver_id", Msg: "is required"}
	case !c.Pickup.Valid():
		return apperr.ValidationError{Field: "pickup", Msg: "coordinates out of range"}
	case !c.Dropoff.Valid():
		return apperr.ValidationError{Field: "dropoff", Msg: "coordinates out of range"}
	case c.EstimatedFare.Amount < 0:
		return apperr.ValidationError{Field: "estimated_fare", Msg: "must not be negative"}
	case !c.PaymentMethod.Valid():
		return apperr.ValidationError{Field: "payment_method", Msg: fmt.Sprintf("unsupported payment method %q", c.PaymentMethod)}
	}
	return nil
}

// Create stores a new ride in requested status and reserves cmd.DriverID in the same commit.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Ride, error) {
	if err := cmd.Validate(); err != nil {
		return Ride{}, err
	}
	if cmd.ID == "" {
		cmd.ID = types.NewID()
	}
	if cmd.ServiceType == "" {
		cmd.ServiceType = "standard"
	}
	est := cmd.EstimatedFare
	if est.Amount == 0 && s.pricing != nil {
		km := pricing.DistanceKm(cmd.Pickup.Point, cmd.Dropoff.Point)
		if q, err := s.pricing.Quote(ctx, cmd.ServiceType, km, 0); err == nil {
			est = q.Total
		}
	}
	if est.Currency == "" {
		est.Currency = cmd.EstimatedFare.Currency
	}

	driverID := cmd.DriverID
	r := &Ride{
		ID:            cmd.ID,
		CustomerID:    cmd.CustomerID,
		DriverID:      &driverID,
		ServiceType:   cmd.ServiceType,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		EstimatedFare: est,
		Status:        StatusRequested,
		PaymentMethod: cmd.PaymentMethod,
		PaymentStatus: PaymentPending,
		CreatedAt:     s.now(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		switch {
		case errors.Is(err, ErrActiveRide):
			return Ride{}, apperr.ConflictError{Resource: "ride", Msg: "you already have an active ride", Err: err}
		case errors.Is(err, ErrDriverUnavailable):
			return Ride{}, apperr.ConflictError{Resource: "driver", Msg: "driver is not available", Err: err}
		}
		return Ride{}, fmt.Errorf("create ride: %w", err)
	}
	return *r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (Ride, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Ride{}, apperr.NotFoundError{Resource: "ride", Err: err}
	}
	if err != nil {
		return Ride{}, fmt.Errorf("load ride %s: %w", id, err)
	}
	return r, nil
}

// HasActiveRide reports whether the customer owns a ride that has not finished.
func (s *Service) HasActiveRide(ctx context.Context, customerID types.ID) (bool, error) {
	active, err := s.store.HasActiveByCustomer(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("check active ride: %w", err)
	}
	return active, nil
}

// View returns the ride to one of its participants or an admin.
func (s *Service) View(ctx context.Context, id types.ID, actor types.Actor) (Ride, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Ride{}, err
	}
	if err := s.checkParticipant(ctx, r, actor); err != nil {
		return Ride{}, err
	}
	return r, nil
}

func (s *Service) ListTimeline(ctx context.Context, id types.ID, actor types.Actor) ([]TimelineEntry, error) {
	r, err := s.View(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return r.Timeline, nil
}

// AssignedDriver resolves actor to its driver profile and checks it is bound to r.
func (s *Service) AssignedDriver(ctx context.Context, r Ride, actor types.Actor) (driver.Driver, error) {
	if actor.Role != types.RoleDriver {
		return driver.Driver{}, apperr.UnauthorizedError{Msg: "only the assigned driver may do this"}
	}
	d, err := s.drivers.GetByUserID(ctx, actor.UserID)
	if errors.Is(err, driver.ErrNotFound) {
		return driver.Driver{}, apperr.UnauthorizedError{Msg: "caller has no driver profile", Err: err}
	}
	if err != nil {
		return driver.Driver{}, fmt.Errorf("load driver for user %s: %w", actor.UserID, err)
	}
	if r.DriverID == nil || *r.DriverID != d.ID {
		return driver.Driver{}, apperr.UnauthorizedError{Msg: "you are not the driver of this ride"}
	}
	return d, nil
}

func (s *Service) checkParticipant(ctx context.Context, r Ride, actor types.Actor) error {
	switch actor.Role {
	case types.RoleAdmin:
		return nil
	case types.RoleCustomer:
		if r.IsCustomer(actor.UserID) {
			return nil
		}
	case types.RoleDriver:
		_, err := s.AssignedDriver(ctx, r, actor)
		return err
	}
	return apperr.UnauthorizedError{Msg: "you are not a participant of this ride"}
}

// authorize returns the driver profile when the actor is the assigned driver.
func (s *Service) authorize(ctx context.Context, r Ride, actor types.Actor, to Status) (*driver.Driver, error) {
	switch actor.Role {
	case types.RoleAdmin:
		return nil, nil
	case types.RoleCustomer:
		if !r.IsCustomer(actor.UserID) {
			return nil, apperr.UnauthorizedError{Msg: "you are not a participant of this ride"}
		}
		if to != StatusCancelled {
			return nil, apperr.UnauthorizedError{Msg: fmt.Sprintf("customers cannot move a ride to %s", to)}
		}
		return nil, nil
	case types.RoleDriver:
		d, err := s.AssignedDriver(ctx, r, actor)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	return nil, apperr.UnauthorizedError{Msg: "unknown role"}
}

type TransitionCommand struct {
	RideID   types.ID
	To       Status
	Actor    types.Actor
	Location *types.Point
	Reason   string
}

// Result carries the committed ride and any side effects that failed after the commit.
type Result struct {
	Ride     Ride
	Warnings []string
}

func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (Result, error) {
	if cmd.RideID == "" {
		return Result{}, apperr.ValidationError{Field: "ride_id", Msg: "is required"}
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return Result{}, apperr.ValidationError{Field: "location", Msg: "coordinates out of range"}
	}
	r, err := s.Get(ctx, cmd.RideID)
	if err != nil {
		return Result{}, err
	}
	drv, err := s.authorize(ctx, r, cmd.Actor, cmd.To)
	if err != nil {
		return Result{}, err
	}
	if err := Next(r.Status, cmd.To); err != nil {
		return Result{}, err
	}

	at := s.now()
	if last := r.lastEventAt(); at.Before(last) {
		at = last
	}
	change := Change{
		RideID:   r.ID,
		From:     r.Status,
		Version:  r.Version,
		To:       cmd.To,
		At:       at,
		Location: cmd.Location,
	}
	switch cmd.To {
	case StatusCancelled:
		change.CancellationReason = cmd.Reason
		change.CancelledBy = cmd.Actor.Role
	case StatusCompleted:
		c := s.completion(ctx, r, cmd.Location, at)
		change.Completion = &c
	}

	updated, err := s.store.Transition(ctx, change)
	switch {
	case errors.Is(err, ErrConflict):
		return Result{}, apperr.ConflictError{Resource: "ride", Msg: fmt.Sprintf("ride is no longer %s", r.Status), Err: err}
	case errors.Is(err, ErrNotFound):
		return Result{}, apperr.NotFoundError{Resource: "ride", Err: err}
	case err != nil:
		return Result{}, fmt.Errorf("commit ride transition: %w", err)
	}
	s.log.InfoContext(ctx, "ride transitioned",
		"ride_id", updated.ID, "from", r.Status, "to", updated.Status, "actor", cmd.Actor.UserID, "role", cmd.Actor.Role)

	updated, warnings := s.afterCommit(ctx, updated, cmd.Location, drv)
	return Result{Ride: updated, Warnings: warnings}, nil
}

// completion snapshots fare and commission for a ride about to complete.
func (s *Service) completion(ctx context.Context, r Ride, sample *types.Point, at time.Time) Completion {
	started, hasStart := r.EnteredAt(StatusInProgress)
	var trace []types.Point
	for _, p := range r.Route {
		if hasStart && p.At.Before(started) {
			continue
		}
		trace = append(trace, types.Point{Lat: p.Lat, Lng: p.Lng})
	}
	if sample != nil {
		trace = append(trace, *sample)
	}
	km := pricing.RouteDistanceKm(trace)
	if len(trace) < 2 {
		km = pricing.DistanceKm(r.Pickup.Point, r.Dropoff.Point)
	}
	var minutes float64
	if hasStart && at.After(started) {
		minutes = at.Sub(started).Minutes()
	}

	fare := r.EstimatedFare
	rate := pricing.DefaultCommissionRate
	if s.pricing != nil {
		rate = s.pricing.CommissionRate()
		q, err := s.pricing.Quote(ctx, r.ServiceType, km, minutes)
		if err != nil {
			s.log.WarnContext(ctx, "fare quote failed, using estimate", "ride_id", r.ID, "service_type", r.ServiceType, "error", err)
		} else {
			fare = q.Total
			if fare.Currency == "" {
				fare.Currency = r.EstimatedFare.Currency
			}
		}
	}

	status := PaymentPaid
	if r.PaymentMethod.ViaGateway() {
		status = PaymentProcessing
	}
	return Completion{
		ActualFare:    fare,
		Commission:    Commission{Rate: rate, Amount: pricing.Commission(fare, rate)},
		PaymentStatus: status,
	}
}

func (s *Service) afterCommit(ctx context.Context, r Ride, sample *types.Point, drv *driver.Driver) (Ride, []string) {
	if r.DriverID == nil {
		return r, nil
	}
	driverID := *r.DriverID
	var warnings []string
	warn := func(effect string, err error) {
		s.log.WarnContext(ctx, "ride side effect failed", "effect", effect, "ride_id", r.ID, "driver_id", driverID, "error", err)
		warnings = append(warnings, fmt.Sprintf("%s: %v", effect, err))
	}

	if sample != nil && s.locations != nil {
		if err := s.bounded(ctx, func(ctx context.Context) error {
			return s.locations.UpdateDriver(ctx, driverID, *sample)
		}); err != nil {
			warn("location", err)
		}
	}

	if r.Status == StatusCompleted && r.PaymentMethod.ViaGateway() {
		if err := s.charge(ctx, r, drv); err != nil {
			warn("payment", err)
			ok, ferr := s.store.SetPaymentStatus(ctx, r.ID, PaymentProcessing, PaymentFailed)
			if ferr != nil {
				warn("payment_status", ferr)
			} else if ok {
				r.PaymentStatus = PaymentFailed
			}
		}
	}
	return r, warnings
}

func (s *Service) charge(ctx context.Context, r Ride, drv *driver.Driver) error {
	if s.payments == nil {
		return errors.New("no payment gateway configured")
	}
	return s.bounded(ctx, func(ctx context.Context) error {
		if drv == nil {
			d, err := s.drivers.Get(ctx, *r.DriverID)
			if err != nil {
				return fmt.Errorf("load payee: %w", err)
			}
			drv = &d
		}
		c := payment.Charge{
			RideID:       r.ID,
			Amount:       *r.ActualFare,
			PayeeAccount: drv.PayoutAccount,
			RequestedAt:  s.now(),
		}
		if r.Commission != nil {
			c.PlatformFee = r.Commission.Amount
		}
		return s.payments.ChargeOrSplit(ctx, c)
	})
}

// bounded runs fn detached from caller cancellation but limited by the side-effect timeout.
func (s *Service) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return fn(ctx)
}

// ReconcilePayment applies the gateway's asynchronous result; the commission snapshot is left untouched.
func (s *Service) ReconcilePayment(ctx context.Context, id types.ID, success bool) (Ride, error) {
	target := PaymentFailed
	if success {
		target = PaymentPaid
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return Ride{}, err
	}
	if r.PaymentStatus == target {
		return r, nil
	}
	from := r.PaymentStatus
	allowed := from == PaymentProcessing || (from == PaymentFailed && success)
	if r.Status != StatusCompleted || !allowed {
		return Ride{}, apperr.ConflictError{Resource: "payment", Msg: fmt.Sprintf("payment is %s and cannot become %s", from, target)}
	}
	ok, err := s.store.SetPaymentStatus(ctx, id, from, target)
	if err != nil {
		return Ride{}, fmt.Errorf("reconcile payment: %w", err)
	}
	if !ok {
		latest, err := s.Get(ctx, id)
		if err != nil {
			return Ride{}, err
		}
		if latest.PaymentStatus == target {
			return latest, nil
		}
		return Ride{}, apperr.ConflictError{Resource: "payment", Msg: "payment status changed concurrently"}
	}
	r.PaymentStatus = target
	s.log.InfoContext(ctx, "payment reconciled", "ride_id", id, "status", target)
	return r, nil
}

// RecordCustomerRating stores the customer's rating of the driver exactly once and returns
// the driver's updated summary. Both land in one commit or neither does.
func (s *Service) RecordCustomerRating(ctx context.Context, r Ride, rating Rating) (driver.RatingSummary, error) {
	sum, ok, err := s.store.SetCustomerRating(ctx, r.ID, r.CustomerID, rating)
	if err != nil {
		return driver.RatingSummary{}, fmt.Errorf("record rating: %w", err)
	}
	if !ok {
		return driver.RatingSummary{}, apperr.ConflictError{Resource: "rating", Msg: "ride has already been rated", Err: ErrConflict}
	}
	return sum, nil
}

// RecordDriverRating stores the driver's rating of the customer exactly once.
func (s *Service) RecordDriverRating(ctx context.Context, r Ride, rating Rating) error {
	if r.DriverID == nil {
		return apperr.ConflictError{Resource: "rating", Msg: "ride has no driver"}
	}
	ok, err := s.store.SetDriverRating(ctx, r.ID, *r.DriverID, rating)
	if err != nil {
		return fmt.Errorf("record rating: %w", err)
	}
	if !ok {
		return apperr.ConflictError{Resource: "rating", Msg: "customer has already been rated for this ride", Err: ErrConflict}
	}
	return nil
}
