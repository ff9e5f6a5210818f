// README: Driver store backed by PostgreSQL; every flag flip is a conditional UPDATE.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rideflow/internal/types"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx. Inside a transaction Begin opens a savepoint,
// so a Store built on a caller's tx commits or rolls back with it.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const driverColumns = `
	id, user_id, name, phone, vehicle, approval_status, is_online, is_available,
	current_ride_id, lat, lng, device_token, payout_account, currency,
	earnings_total, earnings_available, earnings_withdrawn,
	rating_average, rating_1, rating_2, rating_3, rating_4, rating_5,
	version, created_at`

func (s *Store) Create(ctx context.Context, d *Driver) error {
	vehicle, err := json.Marshal(d.Vehicle)
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, name, phone, vehicle, approval_status, is_online, is_available,
			current_ride_id, lat, lng, device_token, payout_account, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(d.ID), string(d.UserID), d.Name, d.Phone, string(vehicle), string(d.ApprovalStatus),
		d.IsOnline, d.CurrentRideID == nil,
		toStringPtr(d.CurrentRideID), lat, lng, d.DeviceToken, d.PayoutAccount, d.Currency, d.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (Driver, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) GetByUserID(ctx context.Context, userID types.ID) (Driver, error) {
	return s.getBy(ctx, "user_id", userID)
}

func (s *Store) getBy(ctx context.Context, column string, v types.ID) (Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE `+column+` = $1`, string(v))
	d, err := scanDriver(row)
	if err != nil {
		return Driver{}, err
	}
	d.Withdrawals, err = s.listWithdrawals(ctx, d.ID)
	if err != nil {
		return Driver{}, err
	}
	return d, nil
}

func scanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	var vehicle []byte
	var currentRide *string
	var lat, lng *float64
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.Phone, &vehicle, &d.ApprovalStatus, &d.IsOnline, &d.IsAvailable,
		&currentRide, &lat, &lng, &d.DeviceToken, &d.PayoutAccount, &d.Currency,
		&d.Earnings.Total, &d.Earnings.Available, &d.Earnings.Withdrawn,
		&d.Rating.Average, &d.Rating.Counts[0], &d.Rating.Counts[1], &d.Rating.Counts[2], &d.Rating.Counts[3], &d.Rating.Counts[4],
		&d.Version, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Driver{}, ErrNotFound
	}
	if err != nil {
		return Driver{}, err
	}
	if len(vehicle) > 0 {
		if err := json.Unmarshal(vehicle, &d.Vehicle); err != nil {
			return Driver{}, fmt.Errorf("decode vehicle: %w", err)
		}
	}
	if currentRide != nil {
		id := types.ID(*currentRide)
		d.CurrentRideID = &id
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	d.Rating = d.Rating.recalculate()
	return d, nil
}

func (s *Store) Reserve(ctx context.Context, driverID, rideID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET is_available = FALSE,
		    current_ride_id = $2,
		    version = version + 1
		WHERE id = $1
		  AND approval_status = 'approved'
		  AND is_online
		  AND is_available`,
		string(driverID), string(rideID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinishRide credits earned and frees the driver if it is still bound to rideID.
func (s *Store) FinishRide(ctx context.Context, driverID, rideID types.ID, earned int64) error {
	return s.execOne(ctx, `
		UPDATE drivers
		SET earnings_total = earnings_total + $3,
		    earnings_available = earnings_available + $3,
		    is_available = is_available OR current_ride_id = $2,
		    current_ride_id = CASE WHEN current_ride_id = $2 THEN NULL ELSE current_ride_id END,
		    version = version + 1
		WHERE id = $1`,
		string(driverID), string(rideID), earned,
	)
}

func (s *Store) SetLocation(ctx context.Context, driverID types.ID, p types.Point) error {
	return s.execOne(ctx, `UPDATE drivers SET lat = $2, lng = $3 WHERE id = $1`, string(driverID), p.Lat, p.Lng)
}

func (s *Store) SetOnline(ctx context.Context, driverID types.ID, online bool) error {
	return s.execOne(ctx, `UPDATE drivers SET is_online = $2, version = version + 1 WHERE id = $1`, string(driverID), online)
}

func (s *Store) ReserveWithdrawal(ctx context.Context, w Withdrawal) (bool, error) {
	bank, err := json.Marshal(w.BankDetails)
	if err != nil {
		return false, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE drivers
		SET earnings_available = earnings_available - $2
		WHERE id = $1 AND earnings_available >= $2`,
		string(w.DriverID), w.Amount,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO driver_withdrawals (id, driver_id, amount, bank_details, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(w.ID), string(w.DriverID), w.Amount, string(bank), string(w.Status), w.RequestedAt,
	); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) SettleWithdrawal(ctx context.Context, withdrawalID types.ID, success bool, at time.Time) (Withdrawal, error) {
	status := WithdrawalFailed
	if success {
		status = WithdrawalCompleted
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Withdrawal{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE driver_withdrawals
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING id, driver_id, amount, bank_details, status, requested_at, completed_at`,
		string(withdrawalID), string(status), at,
	)
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM driver_withdrawals WHERE id = $1)`, string(withdrawalID)).Scan(&exists); err != nil {
			return Withdrawal{}, err
		}
		if exists {
			return Withdrawal{}, ErrWithdrawalSettled
		}
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	if err != nil {
		return Withdrawal{}, err
	}

	q := `UPDATE drivers SET earnings_available = earnings_available + $2 WHERE id = $1`
	if success {
		q = `UPDATE drivers SET earnings_withdrawn = earnings_withdrawn + $2 WHERE id = $1`
	}
	if _, err := tx.Exec(ctx, q, string(w.DriverID), w.Amount); err != nil {
		return Withdrawal{}, err
	}
	return w, tx.Commit(ctx)
}

func (s *Store) ApplyRating(ctx context.Context, driverID types.ID, r Review) (RatingSummary, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return RatingSummary{}, err
	}
	defer tx.Rollback(ctx)

	var sum RatingSummary
	err = tx.QueryRow(ctx, `
		UPDATE drivers
		SET rating_1 = rating_1 + CASE WHEN $2 = 1 THEN 1 ELSE 0 END,
		    rating_2 = rating_2 + CASE WHEN $2 = 2 THEN 1 ELSE 0 END,
		    rating_3 = rating_3 + CASE WHEN $2 = 3 THEN 1 ELSE 0 END,
		    rating_4 = rating_4 + CASE WHEN $2 = 4 THEN 1 ELSE 0 END,
		    rating_5 = rating_5 + CASE WHEN $2 = 5 THEN 1 ELSE 0 END
		WHERE id = $1
		RETURNING rating_1, rating_2, rating_3, rating_4, rating_5`,
		string(driverID), r.Stars,
	).Scan(&sum.Counts[0], &sum.Counts[1], &sum.Counts[2], &sum.Counts[3], &sum.Counts[4])
	if errors.Is(err, pgx.ErrNoRows) {
		return RatingSummary{}, ErrNotFound
	}
	if err != nil {
		return RatingSummary{}, err
	}
	sum = sum.recalculate()

	if _, err := tx.Exec(ctx, `UPDATE drivers SET rating_average = $2 WHERE id = $1`, string(driverID), sum.Average); err != nil {
		return RatingSummary{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO driver_reviews (driver_id, ride_id, customer_id, stars, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(driverID), string(r.RideID), string(r.CustomerID), r.Stars, r.Comment, r.CreatedAt,
	); err != nil {
		return RatingSummary{}, err
	}
	return sum, tx.Commit(ctx)
}

func (s *Store) ListReviews(ctx context.Context, driverID types.ID, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT ride_id, customer_id, stars, comment, created_at
		FROM driver_reviews
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(driverID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.RideID, &r.CustomerID, &r.Stars, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) listWithdrawals(ctx context.Context, driverID types.ID) ([]Withdrawal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, amount, bank_details, status, requested_at, completed_at
		FROM driver_withdrawals
		WHERE driver_id = $1
		ORDER BY requested_at`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	var bank []byte
	if err := row.Scan(&w.ID, &w.DriverID, &w.Amount, &bank, &w.Status, &w.RequestedAt, &w.CompletedAt); err != nil {
		return Withdrawal{}, err
	}
	if len(bank) > 0 {
		if err := json.Unmarshal(bank, &w.BankDetails); err != nil {
			return Withdrawal{}, fmt.Errorf("decode bank details: %w", err)
		}
	}
	return w, nil
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
