// README: In-memory ride repository with the same compare-and-set semantics as Store.
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rideflow/internal/modules/driver"
	"rideflow/internal/types"
)

// MemoryStore holds its lock across the driver mutation of a commit and only touches the
// ride once that mutation succeeded. The lock order is always ride then driver.
type MemoryStore struct {
	mu      sync.Mutex
	rides   map[types.ID]*Ride
	drivers DriverBinding
}

func NewMemoryStore(drivers DriverBinding) *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride), drivers: drivers}
}

func (m *MemoryStore) Create(ctx context.Context, r *Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rides {
		if existing.CustomerID == r.CustomerID && existing.Status.Active() {
			return ErrActiveRide
		}
	}
	if r.DriverID != nil {
		ok, err := m.drivers.Reserve(ctx, *r.DriverID, r.ID)
		if errors.Is(err, driver.ErrNotFound) {
			return ErrDriverUnavailable
		}
		if err != nil {
			return fmt.Errorf("reserve driver %s: %w", *r.DriverID, err)
		}
		if !ok {
			return ErrDriverUnavailable
		}
	}
	r.Timeline = []TimelineEntry{{Status: r.Status, At: r.CreatedAt}}
	cp := clone(*r)
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return Ride{}, ErrNotFound
	}
	return clone(*r), nil
}

func (m *MemoryStore) HasActiveByCustomer(_ context.Context, customerID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.CustomerID == customerID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Transition(ctx context.Context, c Change) (Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[c.RideID]
	if !ok {
		return Ride{}, ErrNotFound
	}
	if r.Status != c.From || r.Version != c.Version {
		return Ride{}, ErrConflict
	}
	if c.To.Terminal() && r.DriverID != nil {
		if err := m.drivers.FinishRide(ctx, *r.DriverID, r.ID, c.earned()); err != nil {
			return Ride{}, fmt.Errorf("finish ride for driver %s: %w", *r.DriverID, err)
		}
	}
	r.Status = c.To
	r.Version++
	r.Timeline = append(r.Timeline, TimelineEntry{Status: c.To, At: c.At})
	if c.Location != nil {
		r.Route = append(r.Route, RoutePoint{Lat: c.Location.Lat, Lng: c.Location.Lng, At: c.At})
	}
	if c.To == StatusCancelled {
		r.CancellationReason = c.CancellationReason
		r.CancelledBy = c.CancelledBy
	}
	if c.Completion != nil {
		fare := c.Completion.ActualFare
		commission := c.Completion.Commission
		r.ActualFare = &fare
		r.Commission = &commission
		r.PaymentStatus = c.Completion.PaymentStatus
	}
	return clone(*r), nil
}

func (m *MemoryStore) SetPaymentStatus(_ context.Context, id types.ID, from, to PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.PaymentStatus != from {
		return false, nil
	}
	r.PaymentStatus = to
	return true, nil
}

func (m *MemoryStore) SetCustomerRating(ctx context.Context, id, customerID types.ID, rating Rating) (driver.RatingSummary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return driver.RatingSummary{}, false, ErrNotFound
	}
	if r.Status != StatusCompleted || r.CustomerID != customerID || r.CustomerRating != nil || r.DriverID == nil {
		return driver.RatingSummary{}, false, nil
	}
	sum, err := m.drivers.ApplyRating(ctx, *r.DriverID, driver.Review{
		RideID:     id,
		CustomerID: customerID,
		Stars:      rating.Stars,
		Comment:    rating.Comment,
		CreatedAt:  rating.At,
	})
	if err != nil {
		return driver.RatingSummary{}, false, fmt.Errorf("apply rating to driver %s: %w", *r.DriverID, err)
	}
	r.CustomerRating = &rating
	return sum, true, nil
}

func (m *MemoryStore) SetDriverRating(_ context.Context, id, driverID types.ID, rating Rating) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusCompleted || r.DriverID == nil || *r.DriverID != driverID || r.DriverRating != nil {
		return false, nil
	}
	r.DriverRating = &rating
	return true, nil
}

func clone(r Ride) Ride {
	if r.DriverID != nil {
		v := *r.DriverID
		r.DriverID = &v
	}
	if r.ActualFare != nil {
		v := *r.ActualFare
		r.ActualFare = &v
	}
	if r.Commission != nil {
		v := *r.Commission
		r.Commission = &v
	}
	if r.CustomerRating != nil {
		v := *r.CustomerRating
		r.CustomerRating = &v
	}
	if r.DriverRating != nil {
		v := *r.DriverRating
		r.DriverRating = &v
	}
	r.Timeline = append([]TimelineEntry(nil), r.Timeline...)
	r.Route = append([]RoutePoint(nil), r.Route...)
	return r
}
