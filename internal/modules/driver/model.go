// README: Driver aggregate with availability, earnings account and rating summary.
package driver

import (
	"errors"
	"math"
	"time"

	"rideflow/internal/types"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalSuspended ApprovalStatus = "suspended"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

var (
	ErrNotFound           = errors.New("driver not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrWithdrawalSettled  = errors.New("withdrawal already settled")
)

// Earnings amounts are in minor currency units. Available never goes negative.
type Earnings struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Withdrawn int64 `json:"withdrawn"`
}

type BankDetails struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
}

type Withdrawal struct {
	ID          types.ID         `json:"id"`
	DriverID    types.ID         `json:"driver_id"`
	Amount      int64            `json:"amount"`
	BankDetails BankDetails      `json:"bank_details"`
	Status      WithdrawalStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RatingSummary keeps one counter per star; Counts[0] is the 1-star bucket.
type RatingSummary struct {
	Average      float64 `json:"average"`
	TotalRatings int     `json:"total_ratings"`
	Counts       [5]int  `json:"counts"`
}

type Review struct {
	RideID     types.ID  `json:"ride_id"`
	CustomerID types.ID  `json:"customer_id"`
	Stars      int       `json:"stars"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Plate string `json:"plate"`
	Color string `json:"color"`
}

type Driver struct {
	ID             types.ID
	UserID         types.ID
	Name           string
	Phone          string
	Vehicle        Vehicle
	ApprovalStatus ApprovalStatus
	IsOnline       bool
	IsAvailable    bool
	CurrentRideID  *types.ID
	Location       *types.Point
	DeviceToken    string
	PayoutAccount  string
	Currency       string
	Earnings       Earnings
	Withdrawals    []Withdrawal
	Rating         RatingSummary
	Version        int
	CreatedAt      time.Time
}

// Contact is the summary returned to a customer after dispatch.
type Contact struct {
	DriverID types.ID     `json:"driver_id"`
	Name     string       `json:"name"`
	Phone    string       `json:"phone"`
	Vehicle  Vehicle      `json:"vehicle"`
	Rating   float64      `json:"rating"`
	Location *types.Point `json:"location,omitempty"`
}

func (d Driver) Contact() Contact {
	return Contact{
		DriverID: d.ID,
		Name:     d.Name,
		Phone:    d.Phone,
		Vehicle:  d.Vehicle,
		Rating:   d.Rating.Average,
		Location: d.Location,
	}
}

// Dispatchable reports whether the driver may be offered a new ride.
func (d Driver) Dispatchable() bool {
	return d.ApprovalStatus == ApprovalApproved && d.IsOnline && d.IsAvailable
}

// WithStar returns the summary after recording one more rating of the given stars.
func (s RatingSummary) WithStar(stars int) RatingSummary {
	s.Counts[stars-1]++
	return s.recalculate()
}

func (s RatingSummary) recalculate() RatingSummary {
	var weighted, total int
	for i, c := range s.Counts {
		weighted += (i + 1) * c
		total += c
	}
	s.TotalRatings = total
	s.Average = 0
	if total > 0 {
		s.Average = math.Round(float64(weighted)/float64(total)*100) / 100
	}
	return s
}
