// README: Rate stores backed by PostgreSQL or a static table.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRateNotFound = errors.New("service rate not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, serviceType string) (Rate, error) {
	var r Rate
	err := s.db.QueryRow(ctx, `
		SELECT service_type, base_fare, per_km, per_minute, minimum_fare, currency
		FROM service_rates
		WHERE service_type = $1`, serviceType,
	).Scan(&r.ServiceType, &r.BaseFare, &r.PerKm, &r.PerMinute, &r.MinimumFare, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}

// StaticRates serves rates from memory, keyed by service type.
type StaticRates map[string]Rate

func (m StaticRates) GetRate(_ context.Context, serviceType string) (Rate, error) {
	r, ok := m[serviceType]
	if !ok {
		return Rate{}, ErrRateNotFound
	}
	return r, nil
}
