package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rideflow/internal/types"
)

func seedDriver(t *testing.T, m *MemoryStore, id types.ID) Driver {
	t.Helper()
	d := &Driver{
		ID:             id,
		UserID:         "u_" + id,
		Name:           "Driver " + string(id),
		ApprovalStatus: ApprovalApproved,
		IsOnline:       true,
		Currency:       "USD",
	}
	if err := m.Create(context.Background(), d); err != nil {
		t.Fatalf("create driver: %v", err)
	}
	got, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	return got
}

func assertAvailabilityInvariant(t *testing.T, d Driver) {
	t.Helper()
	if d.IsAvailable != (d.CurrentRideID == nil) {
		t.Fatalf("availability invariant broken: available=%v current=%v", d.IsAvailable, d.CurrentRideID)
	}
}

func TestMemoryStore_ReserveExactlyOnce(t *testing.T) {
	m := NewMemoryStore()
	seedDriver(t, m, "d1")
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			ok, err := m.Reserve(ctx, "d1", types.ID(fmt.Sprintf("ride%d", n)))
			if err != nil {
				t.Errorf("reserve: %v", err)
			}
			results <- ok
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 reservation, got %d", wins)
	}
	d, _ := m.Get(ctx, "d1")
	assertAvailabilityInvariant(t, d)
	if d.IsAvailable {
		t.Fatalf("expected driver to be unavailable")
	}
}

func TestMemoryStore_ReserveRequiresDispatchable(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		mutate func(d *Driver)
	}{
		{"pending approval", func(d *Driver) { d.ApprovalStatus = ApprovalPending }},
		{"suspended", func(d *Driver) { d.ApprovalStatus = ApprovalSuspended }},
		{"offline", func(d *Driver) { d.IsOnline = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemoryStore()
			d := &Driver{ID: "d1", UserID: "u1", ApprovalStatus: ApprovalApproved, IsOnline: true}
			tc.mutate(d)
			if err := m.Create(ctx, d); err != nil {
				t.Fatalf("create: %v", err)
			}
			ok, err := m.Reserve(ctx, "d1", "r1")
			if err != nil || ok {
				t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
			}
		})
	}

	m := NewMemoryStore()
	if _, err := m.Reserve(ctx, "missing", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_FinishRideFreesOnlyMatchingRide(t *testing.T) {
	m := NewMemoryStore()
	seedDriver(t, m, "d1")
	ctx := context.Background()

	if ok, _ := m.Reserve(ctx, "d1", "r1"); !ok {
		t.Fatalf("reserve failed")
	}
	if err := m.FinishRide(ctx, "d1", "r2", 0); err != nil {
		t.Fatalf("finish other ride: %v", err)
	}
	d, _ := m.Get(ctx, "d1")
	if d.IsAvailable || d.CurrentRideID == nil || *d.CurrentRideID != "r1" {
		t.Fatalf("finishing the wrong ride must not free the driver: %+v", d)
	}

	if err := m.FinishRide(ctx, "d1", "r1", 170); err != nil {
		t.Fatalf("finish: %v", err)
	}
	d, _ = m.Get(ctx, "d1")
	assertAvailabilityInvariant(t, d)
	if !d.IsAvailable {
		t.Fatalf("expected driver available after finish")
	}
	if d.Earnings != (Earnings{Total: 170, Available: 170}) {
		t.Fatalf("unexpected earnings %+v", d.Earnings)
	}

	if err := m.FinishRide(ctx, "missing", "r1", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_WithdrawalLifecycle(t *testing.T) {
	m := NewMemoryStore()
	seedDriver(t, m, "d1")
	ctx := context.Background()

	if err := m.FinishRide(ctx, "d1", "r0", 100); err != nil {
		t.Fatalf("finish ride: %v", err)
	}
	w := Withdrawal{ID: "w1", DriverID: "d1", Amount: 150, Status: WithdrawalPending, RequestedAt: time.Now()}
	if ok, err := m.ReserveWithdrawal(ctx, w); err != nil || ok {
		t.Fatalf("expected insufficient funds, got (%v, %v)", ok, err)
	}

	w.Amount = 60
	if ok, err := m.ReserveWithdrawal(ctx, w); err != nil || !ok {
		t.Fatalf("reserve withdrawal: (%v, %v)", ok, err)
	}
	d, _ := m.Get(ctx, "d1")
	if d.Earnings.Available != 40 || len(d.Withdrawals) != 1 {
		t.Fatalf("unexpected earnings %+v withdrawals %d", d.Earnings, len(d.Withdrawals))
	}

	settled, err := m.SettleWithdrawal(ctx, "w1", true, time.Now())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != WithdrawalCompleted || settled.CompletedAt == nil {
		t.Fatalf("unexpected settled withdrawal %+v", settled)
	}
	if _, err := m.SettleWithdrawal(ctx, "w1", false, time.Now()); !errors.Is(err, ErrWithdrawalSettled) {
		t.Fatalf("expected ErrWithdrawalSettled, got %v", err)
	}
	d, _ = m.Get(ctx, "d1")
	if d.Earnings != (Earnings{Total: 100, Available: 40, Withdrawn: 60}) {
		t.Fatalf("unexpected earnings %+v", d.Earnings)
	}
}

func TestRatingSummary_WithStar(t *testing.T) {
	var s RatingSummary
	for _, stars := range []int{3, 4, 4, 5} {
		s = s.WithStar(stars)
	}
	if s.TotalRatings != 4 {
		t.Fatalf("TotalRatings = %d, want 4", s.TotalRatings)
	}
	if s.Average != 4.00 {
		t.Fatalf("Average = %v, want 4.00", s.Average)
	}
	if s.Counts != [5]int{0, 0, 1, 2, 1} {
		t.Fatalf("Counts = %v", s.Counts)
	}

	s = RatingSummary{}.WithStar(5).WithStar(4).WithStar(4)
	if s.Average != 4.33 {
		t.Fatalf("Average = %v, want 4.33", s.Average)
	}
}
