// README: In-memory driver repository used by tests and the memory store mode.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rideflow/internal/types"
)

type MemoryStore struct {
	mu          sync.Mutex
	drivers     map[types.ID]*Driver
	byUser      map[types.ID]types.ID
	withdrawals map[types.ID]types.ID
	reviews     map[types.ID][]Review
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:     make(map[types.ID]*Driver),
		byUser:      make(map[types.ID]types.ID),
		withdrawals: make(map[types.ID]types.ID),
		reviews:     make(map[types.ID][]Review),
	}
}

func (m *MemoryStore) Create(_ context.Context, d *Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return fmt.Errorf("driver %s already exists", d.ID)
	}
	if _, ok := m.byUser[d.UserID]; ok {
		return fmt.Errorf("user %s already has a driver profile", d.UserID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.IsAvailable = d.CurrentRideID == nil
	cp := clone(*d)
	m.drivers[d.ID] = &cp
	m.byUser[d.UserID] = d.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return Driver{}, ErrNotFound
	}
	return clone(*d), nil
}

func (m *MemoryStore) GetByUserID(ctx context.Context, userID types.ID) (Driver, error) {
	m.mu.Lock()
	id, ok := m.byUser[userID]
	m.mu.Unlock()
	if !ok {
		return Driver{}, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Reserve(_ context.Context, driverID, rideID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return false, ErrNotFound
	}
	if !d.Dispatchable() {
		return false, nil
	}
	r := rideID
	d.IsAvailable = false
	d.CurrentRideID = &r
	d.Version++
	return true, nil
}

func (m *MemoryStore) FinishRide(_ context.Context, driverID, rideID types.ID, earned int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Earnings.Total += earned
	d.Earnings.Available += earned
	if d.CurrentRideID != nil && *d.CurrentRideID == rideID {
		d.IsAvailable = true
		d.CurrentRideID = nil
	}
	d.Version++
	return nil
}

func (m *MemoryStore) SetLocation(_ context.Context, driverID types.ID, p types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Location = &p
	return nil
}

func (m *MemoryStore) SetOnline(_ context.Context, driverID types.ID, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.IsOnline = online
	d.Version++
	return nil
}

func (m *MemoryStore) ReserveWithdrawal(_ context.Context, w Withdrawal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[w.DriverID]
	if !ok {
		return false, ErrNotFound
	}
	if d.Earnings.Available < w.Amount {
		return false, nil
	}
	d.Earnings.Available -= w.Amount
	d.Withdrawals = append(d.Withdrawals, w)
	m.withdrawals[w.ID] = d.ID
	return true, nil
}

func (m *MemoryStore) SettleWithdrawal(_ context.Context, withdrawalID types.ID, success bool, at time.Time) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	driverID, ok := m.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	d := m.drivers[driverID]
	for i := range d.Withdrawals {
		w := &d.Withdrawals[i]
		if w.ID != withdrawalID {
			continue
		}
		if w.Status != WithdrawalPending {
			return *w, ErrWithdrawalSettled
		}
		t := at
		w.CompletedAt = &t
		if success {
			w.Status = WithdrawalCompleted
			d.Earnings.Withdrawn += w.Amount
		} else {
			w.Status = WithdrawalFailed
			d.Earnings.Available += w.Amount
		}
		return *w, nil
	}
	return Withdrawal{}, ErrWithdrawalNotFound
}

func (m *MemoryStore) ApplyRating(_ context.Context, driverID types.ID, r Review) (RatingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return RatingSummary{}, ErrNotFound
	}
	d.Rating = d.Rating.WithStar(r.Stars)
	m.reviews[driverID] = append([]Review{r}, m.reviews[driverID]...)
	return d.Rating, nil
}

func (m *MemoryStore) ListReviews(_ context.Context, driverID types.ID, limit int) ([]Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.reviews[driverID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Review, limit)
	copy(out, all[:limit])
	return out, nil
}

func clone(d Driver) Driver {
	if d.CurrentRideID != nil {
		v := *d.CurrentRideID
		d.CurrentRideID = &v
	}
	if d.Location != nil {
		v := *d.Location
		d.Location = &v
	}
	if d.Withdrawals != nil {
		ws := make([]Withdrawal, len(d.Withdrawals))
		copy(ws, d.Withdrawals)
		d.Withdrawals = ws
	}
	return d
}
