// README: PDF receipts for completed rides.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type Rides interface {
	View(ctx context.Context, id types.ID, actor types.Actor) (ride.Ride, error)
}

type Drivers interface {
	Get(ctx context.Context, id types.ID) (driver.Driver, error)
}

type Service struct {
	rides   Rides
	drivers Drivers
}

func NewService(rides Rides, drivers Drivers) *Service {
	return &Service{rides: rides, drivers: drivers}
}

// ForRide renders the receipt of a completed ride for one of its participants.
func (s *Service) ForRide(ctx context.Context, actor types.Actor, rideID types.ID) ([]byte, error) {
	r, err := s.rides.View(ctx, rideID, actor)
	if err != nil {
		return nil, err
	}
	var d driver.Driver
	if r.DriverID != nil {
		d, err = s.drivers.Get(ctx, *r.DriverID)
		if err != nil {
			return nil, fmt.Errorf("load driver: %w", err)
		}
	}
	return Render(r, d)
}

// Render lays out a single page A4 receipt.
func Render(r ride.Ride, d driver.Driver) ([]byte, error) {
	if r.Status != ride.StatusCompleted || r.ActualFare == nil {
		return nil, apperr.ConflictError{Resource: "receipt", Msg: "ride is not completed yet"}
	}
	completedAt, _ := r.EnteredAt(ride.StatusCompleted)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Ride receipt", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RIDE RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Ride      : " + string(r.ID),
		"Date      : " + completedAt.UTC().Format(time.RFC1123),
		"From      : " + place(r.Pickup),
		"To        : " + place(r.Dropoff),
		"Driver    : " + safe(d.Name, "-"),
		"Vehicle   : " + vehicle(d.Vehicle),
		"Service   : " + safe(r.ServiceType, "standard"),
		"Payment   : " + fmt.Sprintf("%s (%s)", r.PaymentMethod, r.PaymentStatus),
	} {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Fare")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, "Estimated : "+FormatMoney(r.EstimatedFare))
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Total     : "+FormatMoney(*r.ActualFare))
	pdf.Ln(12)

	if r.CustomerRating != nil {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 6, fmt.Sprintf("You rated this ride %d/5.", r.CustomerRating.Stars), "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatMoney prints minor units with two decimals, e.g. 1250 USD -> "12.50 USD".
func FormatMoney(m types.Money) string {
	sign := ""
	amount := m.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, m.Currency)
}

func place(p types.Place) string {
	if p.Address != "" {
		return p.Address
	}
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng)
}

func vehicle(v driver.Vehicle) string {
	if v.Plate == "" {
		return "-"
	}
	return fmt.Sprintf("%s %s %s (%s)", v.Color, v.Make, v.Model, v.Plate)
}

func safe(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
