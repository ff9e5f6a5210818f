package ride_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/ride"
	"rideflow/internal/testdb"
	"rideflow/internal/types"
)

func TestStore_TransitionCompareAndSet(t *testing.T) {
	pool := testdb.Open(t)
	ctx := context.Background()
	drivers := driver.NewStore(pool)
	rides := ride.NewStore(pool)

	d := &driver.Driver{ID: types.NewID(), UserID: types.NewID(), ApprovalStatus: driver.ApprovalApproved, IsOnline: true, Currency: "USD"}
	if err := drivers.Create(ctx, d); err != nil {
		t.Fatalf("create driver: %v", err)
	}
	customerID := types.NewID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	newRide := func() *ride.Ride {
		return &ride.Ride{
			ID:            types.NewID(),
			CustomerID:    customerID,
			DriverID:      &d.ID,
			ServiceType:   "standard",
			Pickup:        types.Place{Point: types.Point{Lat: 1, Lng: 2}, Address: "A"},
			Dropoff:       types.Place{Point: types.Point{Lat: 1.1, Lng: 2}, Address: "B"},
			EstimatedFare: types.Money{Amount: 900, Currency: "USD"},
			Status:        ride.StatusRequested,
			PaymentMethod: ride.PaymentCash,
			PaymentStatus: ride.PaymentPending,
			CreatedAt:     now,
		}
	}

	r := newRide()
	if err := rides.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if bound, _ := drivers.Get(ctx, d.ID); bound.IsAvailable || bound.CurrentRideID == nil || *bound.CurrentRideID != r.ID {
		t.Fatalf("create must reserve the driver: %+v", bound)
	}
	if err := rides.Create(ctx, newRide()); !errors.Is(err, ride.ErrActiveRide) {
		t.Fatalf("second active ride: expected ErrActiveRide, got %v", err)
	}
	if active, err := rides.HasActiveByCustomer(ctx, customerID); err != nil || !active {
		t.Fatalf("HasActiveByCustomer = (%v, %v)", active, err)
	}

	loc := types.Point{Lat: 1.01, Lng: 2}
	got, err := rides.Transition(ctx, ride.Change{RideID: r.ID, From: ride.StatusRequested, Version: 0, To: ride.StatusAccepted, At: now.Add(time.Minute), Location: &loc})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != ride.StatusAccepted || got.Version != 1 || len(got.Timeline) != 2 || len(got.Route) != 1 {
		t.Fatalf("unexpected ride after accept %+v", got)
	}
	if _, err := rides.Transition(ctx, ride.Change{RideID: r.ID, From: ride.StatusRequested, Version: 0, To: ride.StatusCancelled, At: now}); !errors.Is(err, ride.ErrConflict) {
		t.Fatalf("stale transition: expected ErrConflict, got %v", err)
	}
	if _, err := rides.Transition(ctx, ride.Change{RideID: types.NewID(), From: ride.StatusRequested, To: ride.StatusAccepted, At: now}); !errors.Is(err, ride.ErrNotFound) {
		t.Fatalf("missing ride: expected ErrNotFound, got %v", err)
	}

	for i, to := range []ride.Status{ride.StatusDriverArrived, ride.StatusInProgress} {
		if _, err := rides.Transition(ctx, ride.Change{RideID: r.ID, From: got.Status, Version: got.Version, To: to, At: now.Add(time.Duration(i+2) * time.Minute)}); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
		got, _ = rides.Get(ctx, r.ID)
	}
	done, err := rides.Transition(ctx, ride.Change{
		RideID: r.ID, From: ride.StatusInProgress, Version: got.Version, To: ride.StatusCompleted, At: now.Add(10 * time.Minute),
		Completion: &ride.Completion{
			ActualFare:    types.Money{Amount: 1000, Currency: "USD"},
			Commission:    ride.Commission{Rate: 0.02, Amount: types.Money{Amount: 20, Currency: "USD"}},
			PaymentStatus: ride.PaymentPaid,
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.ActualFare == nil || done.ActualFare.Amount != 1000 || done.Commission == nil || done.Commission.Amount.Amount != 20 || done.PaymentStatus != ride.PaymentPaid {
		t.Fatalf("completion snapshot not stored: %+v", done)
	}
	if active, _ := rides.HasActiveByCustomer(ctx, customerID); active {
		t.Fatalf("completed ride must not count as active")
	}
	freed, _ := drivers.Get(ctx, d.ID)
	if !freed.IsAvailable || freed.CurrentRideID != nil || freed.Earnings.Total != 1000 {
		t.Fatalf("completion must free and credit the driver: %+v", freed)
	}

	rating := ride.Rating{Stars: 5, Comment: "great", At: now}
	sum, ok, err := rides.SetCustomerRating(ctx, r.ID, customerID, rating)
	if err != nil || !ok {
		t.Fatalf("rate: (%v, %v)", ok, err)
	}
	if sum.TotalRatings != 1 || sum.Average != 5 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, ok, _ := rides.SetCustomerRating(ctx, r.ID, customerID, rating); ok {
		t.Fatalf("second rating must not apply")
	}
}

func TestStore_CreateRejectsBusyDriverWithoutInsert(t *testing.T) {
	pool := testdb.Open(t)
	ctx := context.Background()
	drivers := driver.NewStore(pool)
	rides := ride.NewStore(pool)

	d := &driver.Driver{ID: types.NewID(), UserID: types.NewID(), ApprovalStatus: driver.ApprovalApproved, IsOnline: true, Currency: "USD"}
	if err := drivers.Create(ctx, d); err != nil {
		t.Fatalf("create driver: %v", err)
	}
	if ok, err := drivers.Reserve(ctx, d.ID, types.NewID()); err != nil || !ok {
		t.Fatalf("reserve: (%v, %v)", ok, err)
	}
	customerID := types.NewID()
	r := &ride.Ride{
		ID:            types.NewID(),
		CustomerID:    customerID,
		DriverID:      &d.ID,
		ServiceType:   "standard",
		EstimatedFare: types.Money{Amount: 500, Currency: "USD"},
		Status:        ride.StatusRequested,
		PaymentMethod: ride.PaymentCash,
		PaymentStatus: ride.PaymentPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := rides.Create(ctx, r); !errors.Is(err, ride.ErrDriverUnavailable) {
		t.Fatalf("expected ErrDriverUnavailable, got %v", err)
	}
	if _, err := rides.Get(ctx, r.ID); !errors.Is(err, ride.ErrNotFound) {
		t.Fatalf("rejected ride must be rolled back, got %v", err)
	}
	if active, _ := rides.HasActiveByCustomer(ctx, customerID); active {
		t.Fatalf("rejected ride counts as active")
	}
}
