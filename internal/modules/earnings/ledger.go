// README: Earnings ledger reserves and settles driver withdrawals against fares credited at ride completion.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/driver"
	"rideflow/internal/types"
)

// Store is the part of the driver repository the ledger mutates.
type Store interface {
	Get(ctx context.Context, id types.ID) (driver.Driver, error)
	GetByUserID(ctx context.Context, userID types.ID) (driver.Driver, error)
	ReserveWithdrawal(ctx context.Context, w driver.Withdrawal) (bool, error)
	SettleWithdrawal(ctx context.Context, withdrawalID types.ID, success bool, at time.Time) (driver.Withdrawal, error)
}

type Ledger struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{store: store, log: logger.With("module", "earnings"), now: time.Now}
}

type WithdrawalCommand struct {
	DriverUserID types.ID
	Amount       int64
	BankDetails  driver.BankDetails
}

func (c WithdrawalCommand) Validate() error {
	switch {
	case c.Amount <= 0:
		return apperr.ValidationError{Field: "amount", Msg: "must be positive"}
	case c.BankDetails.AccountNumber == "":
		return apperr.ValidationError{Field: "bank_details", Msg: "account number is required"}
	}
	return nil
}

// RequestWithdrawal reserves cmd.Amount from available funds and records a pending withdrawal.
func (l *Ledger) RequestWithdrawal(ctx context.Context, cmd WithdrawalCommand) (driver.Withdrawal, error) {
	if err := cmd.Validate(); err != nil {
		return driver.Withdrawal{}, err
	}
	d, err := l.store.GetByUserID(ctx, cmd.DriverUserID)
	if errors.Is(err, driver.ErrNotFound) {
		return driver.Withdrawal{}, apperr.NotFoundError{Resource: "driver", Err: err}
	}
	if err != nil {
		return driver.Withdrawal{}, fmt.Errorf("load driver: %w", err)
	}

	w := driver.Withdrawal{
		ID:          types.NewID(),
		DriverID:    d.ID,
		Amount:      cmd.Amount,
		BankDetails: cmd.BankDetails,
		Status:      driver.WithdrawalPending,
		RequestedAt: l.now(),
	}
	ok, err := l.store.ReserveWithdrawal(ctx, w)
	if err != nil {
		return driver.Withdrawal{}, fmt.Errorf("reserve withdrawal: %w", err)
	}
	if !ok {
		available := d.Earnings.Available
		if latest, err := l.store.Get(ctx, d.ID); err == nil {
			available = latest.Earnings.Available
		}
		return driver.Withdrawal{}, apperr.InsufficientFundsError{Requested: cmd.Amount, Available: available}
	}
	l.log.InfoContext(ctx, "withdrawal requested", "driver_id", d.ID, "withdrawal_id", w.ID, "amount", w.Amount)
	return w, nil
}

// SettleWithdrawal records the payout outcome: completed moves funds to withdrawn, failed refunds available.
func (l *Ledger) SettleWithdrawal(ctx context.Context, withdrawalID types.ID, success bool) (driver.Withdrawal, error) {
	if withdrawalID == "" {
		return driver.Withdrawal{}, apperr.ValidationError{Field: "withdrawal_id", Msg: "is required"}
	}
	w, err := l.store.SettleWithdrawal(ctx, withdrawalID, success, l.now())
	switch {
	case errors.Is(err, driver.ErrWithdrawalNotFound):
		return driver.Withdrawal{}, apperr.NotFoundError{Resource: "withdrawal", Err: err}
	case errors.Is(err, driver.ErrWithdrawalSettled):
		return driver.Withdrawal{}, apperr.ConflictError{Resource: "withdrawal", Msg: "withdrawal is already settled", Err: err}
	case err != nil:
		return driver.Withdrawal{}, fmt.Errorf("settle withdrawal: %w", err)
	}
	l.log.InfoContext(ctx, "withdrawal settled", "withdrawal_id", w.ID, "driver_id", w.DriverID, "status", w.Status)
	return w, nil
}

// Account returns the caller's earnings and withdrawal history.
func (l *Ledger) Account(ctx context.Context, driverUserID types.ID) (driver.Earnings, []driver.Withdrawal, error) {
	d, err := l.store.GetByUserID(ctx, driverUserID)
	if errors.Is(err, driver.ErrNotFound) {
		return driver.Earnings{}, nil, apperr.NotFoundError{Resource: "driver", Err: err}
	}
	if err != nil {
		return driver.Earnings{}, nil, fmt.Errorf("load driver: %w", err)
	}
	return d.Earnings, d.Withdrawals, nil
}
