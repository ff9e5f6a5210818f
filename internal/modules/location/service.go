// README: Location service keeps the driver record and the geo index in step.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/driver"
	"rideflow/internal/types"
)

type Drivers interface {
	Get(ctx context.Context, id types.ID) (driver.Driver, error)
	GetByUserID(ctx context.Context, userID types.ID) (driver.Driver, error)
	SetLocation(ctx context.Context, driverID types.ID, p types.Point) error
	SetOnline(ctx context.Context, driverID types.ID, online bool) error
}

type Service struct {
	drivers Drivers
	geo     GeoIndex
	log     *slog.Logger
}

// NewService accepts a nil geo index; nearby queries then return nothing.
func NewService(drivers Drivers, geo GeoIndex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{drivers: drivers, geo: geo, log: logger.With("module", "location")}
}

// UpdateDriver stores p as the driver's current location.
func (s *Service) UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error {
	if !p.Valid() {
		return apperr.ValidationError{Field: "location", Msg: "coordinates out of range"}
	}
	if err := s.drivers.SetLocation(ctx, driverID, p); err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			return apperr.NotFoundError{Resource: "driver", Err: err}
		}
		return fmt.Errorf("set driver location: %w", err)
	}
	if s.geo != nil {
		if err := s.geo.Set(ctx, driverID, p); err != nil {
			return fmt.Errorf("index driver location: %w", err)
		}
	}
	return nil
}

// Update handles a location report from the driver app.
func (s *Service) Update(ctx context.Context, u Update) (driver.Driver, error) {
	d, err := s.byUser(ctx, u.DriverUserID)
	if err != nil {
		return driver.Driver{}, err
	}
	if err := s.UpdateDriver(ctx, d.ID, u.Point); err != nil {
		return driver.Driver{}, err
	}
	p := u.Point
	d.Location = &p
	return d, nil
}

// SetOnline toggles presence for dispatch; offline drivers leave the geo index.
func (s *Service) SetOnline(ctx context.Context, driverUserID types.ID, online bool) (driver.Driver, error) {
	d, err := s.byUser(ctx, driverUserID)
	if err != nil {
		return driver.Driver{}, err
	}
	if err := s.drivers.SetOnline(ctx, d.ID, online); err != nil {
		return driver.Driver{}, fmt.Errorf("set online: %w", err)
	}
	if s.geo != nil {
		switch {
		case !online:
			err = s.geo.Remove(ctx, d.ID)
		case d.Location != nil:
			err = s.geo.Set(ctx, d.ID, *d.Location)
		}
		if err != nil {
			s.log.WarnContext(ctx, "geo index update failed", "driver_id", d.ID, "online", online, "error", err)
		}
	}
	d.IsOnline = online
	s.log.InfoContext(ctx, "driver presence changed", "driver_id", d.ID, "online", online)
	return d, nil
}

// Nearby lists dispatchable drivers around origin, closest first.
func (s *Service) Nearby(ctx context.Context, origin types.Point, radiusKm float64) ([]Nearby, error) {
	if !origin.Valid() {
		return nil, apperr.ValidationError{Field: "origin", Msg: "coordinates out of range"}
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if s.geo == nil {
		return nil, nil
	}
	hits, err := s.geo.Search(ctx, origin, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	out := hits[:0]
	for _, h := range hits {
		d, err := s.drivers.Get(ctx, h.DriverID)
		if err != nil {
			if errors.Is(err, driver.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if d.Dispatchable() {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Service) byUser(ctx context.Context, userID types.ID) (driver.Driver, error) {
	d, err := s.drivers.GetByUserID(ctx, userID)
	if errors.Is(err, driver.ErrNotFound) {
		return driver.Driver{}, apperr.NotFoundError{Resource: "driver", Err: err}
	}
	if err != nil {
		return driver.Driver{}, fmt.Errorf("load driver: %w", err)
	}
	return d, nil
}
