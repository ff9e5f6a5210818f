// README: Ride aggregate, lifecycle statuses and the transition table.
package ride

import (
	"fmt"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/types"
)

type Status string

const (
	StatusRequested     Status = "requested"
	StatusAccepted      Status = "accepted"
	StatusDriverArrived Status = "driver_arrived"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// ActiveStatuses are the non-terminal statuses; a customer or driver owns at most one such ride.
var ActiveStatuses = []Status{StatusRequested, StatusAccepted, StatusDriverArrived, StatusInProgress}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusDriverArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:     {StatusAccepted, StatusCancelled},
	StatusAccepted:      {StatusDriverArrived, StatusCancelled},
	StatusDriverArrived: {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
	PaymentStripe PaymentMethod = "stripe"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentWallet, PaymentStripe:
		return true
	}
	return false
}

// ViaGateway reports whether settlement goes through the external payment gateway.
func (m PaymentMethod) ViaGateway() bool {
	return m == PaymentCard || m == PaymentStripe
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

type TimelineEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type RoutePoint struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// Commission is snapshotted at completion and never recomputed.
type Commission struct {
	Rate   float64     `json:"rate"`
	Amount types.Money `json:"amount"`
}

type Rating struct {
	Stars   int       `json:"stars"`
	Comment string    `json:"comment"`
	At      time.Time `json:"at"`
}

type Ride struct {
	ID                 types.ID        `json:"id"`
	CustomerID         types.ID        `json:"customer_id"`
	DriverID           *types.ID       `json:"driver_id,omitempty"`
	ServiceType        string          `json:"service_type"`
	Pickup             types.Place     `json:"pickup"`
	Dropoff            types.Place     `json:"dropoff"`
	EstimatedFare      types.Money     `json:"estimated_fare"`
	ActualFare         *types.Money    `json:"actual_fare,omitempty"`
	Status             Status          `json:"status"`
	Version            int             `json:"-"`
	PaymentMethod      PaymentMethod   `json:"payment_method"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	Timeline           []TimelineEntry `json:"timeline"`
	Route              []RoutePoint    `json:"route,omitempty"`
	Commission         *Commission     `json:"commission,omitempty"`
	CustomerRating     *Rating         `json:"customer_rating,omitempty"`
	DriverRating       *Rating         `json:"driver_rating,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CancelledBy        types.Role      `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsCustomer reports whether userID owns the ride.
func (r Ride) IsCustomer(userID types.ID) bool {
	return r.CustomerID == userID
}

// EnteredAt returns when the ride last entered status s.
func (r Ride) EnteredAt(s Status) (time.Time, bool) {
	for i := len(r.Timeline) - 1; i >= 0; i-- {
		if r.Timeline[i].Status == s {
			return r.Timeline[i].At, true
		}
	}
	return time.Time{}, false
}

func (r Ride) lastEventAt() time.Time {
	if len(r.Timeline) == 0 {
		return r.CreatedAt
	}
	return r.Timeline[len(r.Timeline)-1].At
}

// Change is one committed transition, applied with compare-and-set on (Status, Version).
type Change struct {
	RideID             types.ID
	From               Status
	Version            int
	To                 Status
	At                 time.Time
	Location           *types.Point
	CancellationReason string
	CancelledBy        types.Role
	Completion         *Completion
}

// Completion is the financial snapshot written atomically with the completed status.
type Completion struct {
	ActualFare    types.Money
	Commission    Commission
	PaymentStatus PaymentStatus
}

// Next is the total transition function: nil for a legal edge, a conflict otherwise.
func Next(from, to Status) error {
	if !to.Valid() {
		return apperr.ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", to)}
	}
	if from.Terminal() {
		return apperr.ConflictError{Resource: "ride", Msg: fmt.Sprintf("ride is already %s", from), Err: ErrConflict}
	}
	if !CanTransition(from, to) {
		return apperr.ConflictError{Resource: "ride", Msg: fmt.Sprintf("cannot move ride from %s to %s", from, to), Err: ErrConflict}
	}
	return nil
}
