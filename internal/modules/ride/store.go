// README: Ride store backed by PostgreSQL; transitions are compare-and-set inside one transaction.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rideflow/internal/modules/driver"
	"rideflow/internal/types"
)

const uniqueViolation = "23505"

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Ride) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rides (
			id, customer_id, driver_id, service_type,
			pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			estimated_fare, currency, status, version,
			payment_method, payment_status, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17
		)`,
		string(r.ID), string(r.CustomerID), toStringPtr(r.DriverID), r.ServiceType,
		r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address,
		r.Dropoff.Lat, r.Dropoff.Lng, r.Dropoff.Address,
		r.EstimatedFare.Amount, r.EstimatedFare.Currency, string(r.Status), r.Version,
		string(r.PaymentMethod), string(r.PaymentStatus), r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveRide
	}
	if err != nil {
		return err
	}
	if r.DriverID != nil {
		ok, err := driver.NewStore(tx).Reserve(ctx, *r.DriverID, r.ID)
		if err != nil {
			return fmt.Errorf("reserve driver %s: %w", *r.DriverID, err)
		}
		if !ok {
			return ErrDriverUnavailable
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ride_timeline (ride_id, status, at) VALUES ($1, $2, $3)`,
		string(r.ID), string(r.Status), r.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.Timeline = []TimelineEntry{{Status: r.Status, At: r.CreatedAt}}
	return nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (Ride, error) {
	return get(ctx, s.db, id)
}

func (s *Store) HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE customer_id = $1
			  AND status IN ('requested','accepted','driver_arrived','in_progress')
		)`, string(customerID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) Transition(ctx context.Context, c Change) (Ride, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Ride{}, err
	}
	defer tx.Rollback(ctx)

	var fare, commissionAmount *int64
	var commissionRate *float64
	var paymentStatus *string
	if c.Completion != nil {
		fare = &c.Completion.ActualFare.Amount
		commissionRate = &c.Completion.Commission.Rate
		commissionAmount = &c.Completion.Commission.Amount.Amount
		ps := string(c.Completion.PaymentStatus)
		paymentStatus = &ps
	}
	var reason, cancelledBy *string
	if c.To == StatusCancelled {
		reason = &c.CancellationReason
		by := string(c.CancelledBy)
		cancelledBy = &by
	}

	var driverID *string
	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET status = $1,
		    version = version + 1,
		    actual_fare = COALESCE($2, actual_fare),
		    commission_rate = COALESCE($3, commission_rate),
		    commission_amount = COALESCE($4, commission_amount),
		    payment_status = COALESCE($5, payment_status),
		    cancellation_reason = COALESCE($6, cancellation_reason),
		    cancelled_by = COALESCE($7, cancelled_by)
		WHERE id = $8 AND status = $9 AND version = $10
		RETURNING driver_id`,
		string(c.To), fare, commissionRate, commissionAmount, paymentStatus, reason, cancelledBy,
		string(c.RideID), string(c.From), c.Version,
	).Scan(&driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(c.RideID)).Scan(&exists); err != nil {
			return Ride{}, err
		}
		if !exists {
			return Ride{}, ErrNotFound
		}
		return Ride{}, ErrConflict
	}
	if err != nil {
		return Ride{}, err
	}
	if c.To.Terminal() && driverID != nil {
		if err := driver.NewStore(tx).FinishRide(ctx, types.ID(*driverID), c.RideID, c.earned()); err != nil {
			return Ride{}, fmt.Errorf("finish ride for driver %s: %w", *driverID, err)
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO ride_timeline (ride_id, status, at) VALUES ($1, $2, $3)`,
		string(c.RideID), string(c.To), c.At); err != nil {
		return Ride{}, err
	}
	if c.Location != nil {
		if _, err := tx.Exec(ctx, `INSERT INTO ride_route (ride_id, lat, lng, at) VALUES ($1, $2, $3, $4)`,
			string(c.RideID), c.Location.Lat, c.Location.Lng, c.At); err != nil {
			return Ride{}, err
		}
	}
	r, err := get(ctx, tx, c.RideID)
	if err != nil {
		return Ride{}, err
	}
	return r, tx.Commit(ctx)
}

func (s *Store) SetPaymentStatus(ctx context.Context, id types.ID, from, to PaymentStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE rides SET payment_status = $3 WHERE id = $1 AND payment_status = $2`,
		string(id), string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetCustomerRating(ctx context.Context, id, customerID types.ID, r Rating) (driver.RatingSummary, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return driver.RatingSummary{}, false, err
	}
	defer tx.Rollback(ctx)

	var driverID string
	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET customer_rating = $3, customer_comment = $4, customer_rated_at = $5
		WHERE id = $1 AND customer_id = $2 AND status = 'completed'
		  AND customer_rating IS NULL AND driver_id IS NOT NULL
		RETURNING driver_id`,
		string(id), string(customerID), r.Stars, r.Comment, r.At,
	).Scan(&driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return driver.RatingSummary{}, false, nil
	}
	if err != nil {
		return driver.RatingSummary{}, false, err
	}
	sum, err := driver.NewStore(tx).ApplyRating(ctx, types.ID(driverID), driver.Review{
		RideID:     id,
		CustomerID: customerID,
		Stars:      r.Stars,
		Comment:    r.Comment,
		CreatedAt:  r.At,
	})
	if err != nil {
		return driver.RatingSummary{}, false, fmt.Errorf("apply rating to driver %s: %w", driverID, err)
	}
	return sum, true, tx.Commit(ctx)
}

func (s *Store) SetDriverRating(ctx context.Context, id, driverID types.ID, r Rating) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET driver_rating = $3, driver_comment = $4, driver_rated_at = $5
		WHERE id = $1 AND driver_id = $2 AND status = 'completed' AND driver_rating IS NULL`,
		string(id), string(driverID), r.Stars, r.Comment, r.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func get(ctx context.Context, q querier, id types.ID) (Ride, error) {
	row := q.QueryRow(ctx, `
		SELECT id, customer_id, driver_id, service_type,
		       pickup_lat, pickup_lng, pickup_address,
		       dropoff_lat, dropoff_lng, dropoff_address,
		       estimated_fare, actual_fare, currency, status, version,
		       payment_method, payment_status, commission_rate, commission_amount,
		       customer_rating, customer_comment, customer_rated_at,
		       driver_rating, driver_comment, driver_rated_at,
		       cancellation_reason, cancelled_by, created_at
		FROM rides
		WHERE id = $1`, string(id),
	)

	var r Ride
	var driverID, cancelReason, cancelledBy *string
	var actualFare, commissionAmount *int64
	var commissionRate *float64
	var custStars, drvStars *int
	var custComment, drvComment *string
	var custAt, drvAt *time.Time
	err := row.Scan(
		&r.ID, &r.CustomerID, &driverID, &r.ServiceType,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Pickup.Address,
		&r.Dropoff.Lat, &r.Dropoff.Lng, &r.Dropoff.Address,
		&r.EstimatedFare.Amount, &actualFare, &r.EstimatedFare.Currency, &r.Status, &r.Version,
		&r.PaymentMethod, &r.PaymentStatus, &commissionRate, &commissionAmount,
		&custStars, &custComment, &custAt,
		&drvStars, &drvComment, &drvAt,
		&cancelReason, &cancelledBy, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	if err != nil {
		return Ride{}, err
	}

	currency := r.EstimatedFare.Currency
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	if actualFare != nil {
		r.ActualFare = &types.Money{Amount: *actualFare, Currency: currency}
	}
	if commissionRate != nil && commissionAmount != nil {
		r.Commission = &Commission{Rate: *commissionRate, Amount: types.Money{Amount: *commissionAmount, Currency: currency}}
	}
	r.CustomerRating = toRating(custStars, custComment, custAt)
	r.DriverRating = toRating(drvStars, drvComment, drvAt)
	if cancelReason != nil {
		r.CancellationReason = *cancelReason
	}
	if cancelledBy != nil {
		r.CancelledBy = types.Role(*cancelledBy)
	}

	if r.Timeline, err = listTimeline(ctx, q, id); err != nil {
		return Ride{}, err
	}
	if r.Route, err = listRoute(ctx, q, id); err != nil {
		return Ride{}, err
	}
	return r, nil
}

func listTimeline(ctx context.Context, q querier, id types.ID) ([]TimelineEntry, error) {
	rows, err := q.Query(ctx, `SELECT status, at FROM ride_timeline WHERE ride_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.Status, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func listRoute(ctx context.Context, q querier, id types.ID) ([]RoutePoint, error) {
	rows, err := q.Query(ctx, `SELECT lat, lng, at FROM ride_route WHERE ride_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutePoint
	for rows.Next() {
		var p RoutePoint
		if err := rows.Scan(&p.Lat, &p.Lng, &p.At); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func toRating(stars *int, comment *string, at *time.Time) *Rating {
	if stars == nil {
		return nil
	}
	r := Rating{Stars: *stars}
	if comment != nil {
		r.Comment = *comment
	}
	if at != nil {
		r.At = *at
	}
	return &r
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
