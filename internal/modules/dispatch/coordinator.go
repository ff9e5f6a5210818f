// README: Dispatch coordinator binds a customer to a named driver and drives the ride's caller-facing operations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/fanout"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/notification"
	"rideflow/internal/modules/rating"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type Drivers interface {
	Get(ctx context.Context, id types.ID) (driver.Driver, error)
}

type Rides interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (ride.Ride, error)
	Get(ctx context.Context, id types.ID) (ride.Ride, error)
	View(ctx context.Context, id types.ID, actor types.Actor) (ride.Ride, error)
	HasActiveRide(ctx context.Context, customerID types.ID) (bool, error)
	AssignedDriver(ctx context.Context, r ride.Ride, actor types.Actor) (driver.Driver, error)
	Transition(ctx context.Context, cmd ride.TransitionCommand) (ride.Result, error)
}

type Ratings interface {
	Submit(ctx context.Context, cmd rating.SubmitCommand) (rating.Submission, error)
	RateCustomer(ctx context.Context, cmd rating.RateCustomerCommand) (ride.Ride, error)
}

type Notifier interface {
	Create(ctx context.Context, cmd notification.CreateCommand) (notification.Notification, error)
}

type Deps struct {
	Drivers           Drivers
	Rides             Rides
	Ratings           Ratings
	Fanout            fanout.Publisher
	Notifications     Notifier
	Logger            *slog.Logger
	SideEffectTimeout time.Duration
}

type Coordinator struct {
	drivers  Drivers
	rides    Rides
	ratings  Ratings
	fanout   fanout.Publisher
	notifier Notifier
	log      *slog.Logger
	timeout  time.Duration
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		drivers:  d.Drivers,
		rides:    d.Rides,
		ratings:  d.Ratings,
		fanout:   d.Fanout,
		notifier: d.Notifications,
		log:      d.Logger,
		timeout:  d.SideEffectTimeout,
	}
	if c.fanout == nil {
		c.fanout = fanout.Nop{}
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	c.log = c.log.With("module", "dispatch")
	if c.timeout <= 0 {
		c.timeout = ride.DefaultSideEffectTimeout
	}
	return c
}

// RideEvent is the payload published to real-time subscribers.
type RideEvent struct {
	RideID        types.ID        `json:"ride_id"`
	Status        ride.Status     `json:"status"`
	Pickup        types.Place     `json:"pickup"`
	Dropoff       types.Place     `json:"dropoff"`
	EstimatedFare types.Money     `json:"estimated_fare"`
	ActualFare    *types.Money    `json:"actual_fare,omitempty"`
	Driver        *driver.Contact `json:"driver,omitempty"`
	Location      *types.Point    `json:"location,omitempty"`
	CancelledBy   types.Role      `json:"cancelled_by,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Rating        int             `json:"rating,omitempty"`
	At            time.Time       `json:"at"`
}

func newEvent(r ride.Ride) RideEvent {
	e := RideEvent{
		RideID:        r.ID,
		Status:        r.Status,
		Pickup:        r.Pickup,
		Dropoff:       r.Dropoff,
		EstimatedFare: r.EstimatedFare,
		ActualFare:    r.ActualFare,
		CancelledBy:   r.CancelledBy,
		Reason:        r.CancellationReason,
		At:            r.CreatedAt,
	}
	if n := len(r.Timeline); n > 0 {
		e.At = r.Timeline[n-1].At
	}
	return e
}

type RequestCommand struct {
	CustomerID    types.ID
	DriverID      types.ID
	ServiceType   string
	Pickup        types.Place
	Dropoff       types.Place
	EstimatedFare types.Money
	PaymentMethod ride.PaymentMethod
}

type RequestResult struct {
	Ride     ride.Ride      `json:"ride"`
	Driver   driver.Contact `json:"driver"`
	Warnings []string       `json:"warnings,omitempty"`
}

// RequestRide reserves the named driver and creates the ride; a lost reservation race is a conflict.
func (c *Coordinator) RequestRide(ctx context.Context, cmd RequestCommand) (RequestResult, error) {
	create := ride.CreateCommand{
		ID:            types.NewID(),
		CustomerID:    cmd.CustomerID,
		DriverID:      cmd.DriverID,
		ServiceType:   cmd.ServiceType,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		EstimatedFare: cmd.EstimatedFare,
		PaymentMethod: cmd.PaymentMethod,
	}
	if err := create.Validate(); err != nil {
		return RequestResult{}, err
	}
	active, err := c.rides.HasActiveRide(ctx, cmd.CustomerID)
	if err != nil {
		return RequestResult{}, err
	}
	if active {
		return RequestResult{}, apperr.ConflictError{Resource: "ride", Msg: "you already have an active ride"}
	}

	d, err := c.drivers.Get(ctx, cmd.DriverID)
	if errors.Is(err, driver.ErrNotFound) {
		return RequestResult{}, apperr.NotFoundError{Resource: "driver", Err: err}
	}
	if err != nil {
		return RequestResult{}, fmt.Errorf("load driver: %w", err)
	}
	switch {
	case d.ApprovalStatus != driver.ApprovalApproved:
		return RequestResult{}, apperr.ConflictError{Resource: "driver", Msg: "driver is not approved"}
	case !d.IsOnline:
		return RequestResult{}, apperr.ConflictError{Resource: "driver", Msg: "driver is offline"}
	}

	// The reservation commits with the ride; a driver taken meanwhile surfaces as a conflict.
	r, err := c.rides.Create(ctx, create)
	if err != nil {
		return RequestResult{}, err
	}
	c.log.InfoContext(ctx, "ride requested", "ride_id", r.ID, "customer_id", r.CustomerID, "driver_id", d.ID)

	var warnings []string
	ev := newEvent(r)
	c.publish(ctx, &warnings, fanout.ChannelDriver(d.UserID), fanout.EventRideRequested, ev)
	c.notify(ctx, &warnings, notification.CreateCommand{
		SenderID:    r.CustomerID,
		ReceiverID:  d.UserID,
		Title:       "New ride request",
		Message:     fmt.Sprintf("Pickup at %s", placeLabel(r.Pickup)),
		Type:        notification.TypeRideRequest,
		Data:        map[string]string{"ride_id": string(r.ID)},
		DeviceToken: d.DeviceToken,
	})
	return RequestResult{Ride: r, Driver: d.Contact(), Warnings: warnings}, nil
}

type Result struct {
	Ride     ride.Ride `json:"ride"`
	Warnings []string  `json:"warnings,omitempty"`
}

// AcceptRide lets the assigned driver take a ride that is still requested.
func (c *Coordinator) AcceptRide(ctx context.Context, actor types.Actor, rideID types.ID) (Result, error) {
	r, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return Result{}, err
	}
	d, err := c.rides.AssignedDriver(ctx, r, actor)
	if err != nil {
		return Result{}, err
	}
	if r.Status != ride.StatusRequested {
		return Result{}, apperr.ConflictError{Resource: "ride", Msg: "ride is no longer available"}
	}
	res, err := c.rides.Transition(ctx, ride.TransitionCommand{RideID: rideID, To: ride.StatusAccepted, Actor: actor})
	if apperr.IsConflict(err) {
		return Result{}, apperr.ConflictError{Resource: "ride", Msg: "ride is no longer available", Err: err}
	}
	if err != nil {
		return Result{}, err
	}

	warnings := res.Warnings
	ev := newEvent(res.Ride)
	contact := d.Contact()
	ev.Driver = &contact
	c.publish(ctx, &warnings, fanout.ChannelCustomer(res.Ride.CustomerID), fanout.EventRideAccepted, ev)
	c.notify(ctx, &warnings, notification.CreateCommand{
		SenderID:   d.UserID,
		ReceiverID: res.Ride.CustomerID,
		Title:      "Ride accepted",
		Message:    fmt.Sprintf("%s is on the way", driverLabel(d)),
		Type:       notification.TypeRideAccepted,
		Data:       map[string]string{"ride_id": string(rideID), "driver_id": string(d.ID)},
	})
	return Result{Ride: res.Ride, Warnings: warnings}, nil
}

// CancelRide cancels a ride that has not started yet and tells both parties.
func (c *Coordinator) CancelRide(ctx context.Context, actor types.Actor, rideID types.ID, reason string) (Result, error) {
	res, err := c.rides.Transition(ctx, ride.TransitionCommand{
		RideID: rideID,
		To:     ride.StatusCancelled,
		Actor:  actor,
		Reason: reason,
	})
	if err != nil {
		return Result{}, err
	}
	r := res.Ride
	warnings := res.Warnings
	ev := newEvent(r)

	c.publish(ctx, &warnings, fanout.ChannelCustomer(r.CustomerID), fanout.EventRideCancelled, ev)
	d, hasDriver := c.assigned(ctx, r, &warnings)
	if hasDriver {
		c.publish(ctx, &warnings, fanout.ChannelDriver(d.UserID), fanout.EventRideCancelled, ev)
	}

	msg := fmt.Sprintf("Ride cancelled by %s", actor.Role)
	if reason != "" {
		msg += ": " + reason
	}
	note := notification.CreateCommand{
		SenderID: actor.UserID,
		Title:    "Ride cancelled",
		Message:  msg,
		Type:     notification.TypeRideCancelled,
		Data:     map[string]string{"ride_id": string(r.ID), "cancelled_by": string(actor.Role)},
	}
	if actor.Role != types.RoleCustomer {
		n := note
		n.ReceiverID = r.CustomerID
		c.notify(ctx, &warnings, n)
	}
	if actor.Role != types.RoleDriver && hasDriver {
		n := note
		n.ReceiverID = d.UserID
		n.DeviceToken = d.DeviceToken
		c.notify(ctx, &warnings, n)
	}
	return Result{Ride: r, Warnings: warnings}, nil
}

// UpdateStatus moves the ride along its lifecycle, routing accept and cancel to their dedicated paths.
func (c *Coordinator) UpdateStatus(ctx context.Context, actor types.Actor, rideID types.ID, to ride.Status, location *types.Point) (Result, error) {
	switch to {
	case ride.StatusAccepted:
		return c.AcceptRide(ctx, actor, rideID)
	case ride.StatusCancelled:
		return c.CancelRide(ctx, actor, rideID, "")
	}
	res, err := c.rides.Transition(ctx, ride.TransitionCommand{RideID: rideID, To: to, Actor: actor, Location: location})
	if err != nil {
		return Result{}, err
	}
	r := res.Ride
	warnings := res.Warnings
	ev := newEvent(r)
	ev.Location = location

	event := fanout.EventRideStatus
	if r.Status == ride.StatusCompleted {
		event = fanout.EventRideCompleted
	}
	c.publish(ctx, &warnings, fanout.ChannelCustomer(r.CustomerID), event, ev)
	if r.Status == ride.StatusCompleted {
		if d, ok := c.assigned(ctx, r, &warnings); ok {
			c.publish(ctx, &warnings, fanout.ChannelDriver(d.UserID), event, ev)
		}
	}
	return Result{Ride: r, Warnings: warnings}, nil
}

type RateResult struct {
	Ride     ride.Ride            `json:"ride"`
	Summary  driver.RatingSummary `json:"summary"`
	Warnings []string             `json:"warnings,omitempty"`
}

// RateRide records the customer's rating of the driver on a completed ride, once.
func (c *Coordinator) RateRide(ctx context.Context, actor types.Actor, rideID types.ID, stars int, comment string) (RateResult, error) {
	if actor.Role != types.RoleCustomer && actor.Role != types.RoleAdmin {
		return RateResult{}, apperr.UnauthorizedError{Msg: "only the ride's customer can rate the driver"}
	}
	sub, err := c.ratings.Submit(ctx, rating.SubmitCommand{RideID: rideID, CustomerID: actor.UserID, Stars: stars, Comment: comment})
	if err != nil {
		return RateResult{}, err
	}
	r := sub.Ride
	var warnings []string
	if d, ok := c.assigned(ctx, r, &warnings); ok {
		ev := newEvent(r)
		ev.Rating = stars
		c.publish(ctx, &warnings, fanout.ChannelDriver(d.UserID), fanout.EventRideRated, ev)
		c.notify(ctx, &warnings, notification.CreateCommand{
			SenderID:    actor.UserID,
			ReceiverID:  d.UserID,
			Title:       "New rating",
			Message:     fmt.Sprintf("You received %d stars", stars),
			Type:        notification.TypeRideRated,
			Data:        map[string]string{"ride_id": string(r.ID), "rating": fmt.Sprint(stars)},
			DeviceToken: d.DeviceToken,
		})
	}
	return RateResult{Ride: r, Summary: sub.Summary, Warnings: warnings}, nil
}

// RateCustomer records the assigned driver's rating of the customer.
func (c *Coordinator) RateCustomer(ctx context.Context, actor types.Actor, rideID types.ID, stars int, comment string) (Result, error) {
	r, err := c.ratings.RateCustomer(ctx, rating.RateCustomerCommand{RideID: rideID, Actor: actor, Stars: stars, Comment: comment})
	if err != nil {
		return Result{}, err
	}
	var warnings []string
	ev := newEvent(r)
	ev.Rating = stars
	c.publish(ctx, &warnings, fanout.ChannelCustomer(r.CustomerID), fanout.EventRideRated, ev)
	return Result{Ride: r, Warnings: warnings}, nil
}

type StatusView struct {
	Ride   ride.Ride       `json:"ride"`
	Driver *driver.Contact `json:"driver,omitempty"`
}

// GetStatus returns the ride and its driver's contact to a participant.
func (c *Coordinator) GetStatus(ctx context.Context, actor types.Actor, rideID types.ID) (StatusView, error) {
	r, err := c.rides.View(ctx, rideID, actor)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{Ride: r}
	if r.DriverID != nil {
		d, err := c.drivers.Get(ctx, *r.DriverID)
		if err != nil && !errors.Is(err, driver.ErrNotFound) {
			return StatusView{}, fmt.Errorf("load driver: %w", err)
		}
		if err == nil {
			contact := d.Contact()
			view.Driver = &contact
		}
	}
	return view, nil
}

func (c *Coordinator) assigned(ctx context.Context, r ride.Ride, warnings *[]string) (driver.Driver, bool) {
	if r.DriverID == nil {
		return driver.Driver{}, false
	}
	d, err := c.drivers.Get(ctx, *r.DriverID)
	if err != nil {
		c.warn(ctx, warnings, "load_driver", r.ID, err)
		return driver.Driver{}, false
	}
	return d, true
}

func (c *Coordinator) publish(ctx context.Context, warnings *[]string, channel, event string, ev RideEvent) {
	bctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.fanout.Publish(bctx, channel, event, ev); err != nil {
		c.warn(ctx, warnings, "fanout "+channel, ev.RideID, err)
	}
}

func (c *Coordinator) notify(ctx context.Context, warnings *[]string, cmd notification.CreateCommand) {
	if c.notifier == nil {
		return
	}
	bctx, cancel := c.bounded(ctx)
	defer cancel()
	if _, err := c.notifier.Create(bctx, cmd); err != nil {
		c.warn(ctx, warnings, "notification", types.ID(cmd.Data["ride_id"]), err)
	}
}

func (c *Coordinator) warn(ctx context.Context, warnings *[]string, effect string, rideID types.ID, err error) {
	c.log.WarnContext(ctx, "dispatch side effect failed", "effect", effect, "ride_id", rideID, "error", err)
	*warnings = append(*warnings, fmt.Sprintf("%s: %v", effect, err))
}

func (c *Coordinator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func placeLabel(p types.Place) string {
	if p.Address != "" {
		return p.Address
	}
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

func driverLabel(d driver.Driver) string {
	if d.Name != "" {
		return d.Name
	}
	return "Your driver"
}
