// README: Payment gateway boundary; charges go out over AMQP and results come back through the webhook.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rideflow/internal/types"
)

const (
	Exchange         = "payments"
	ChargeRoutingKey = "payment.charge"
	ResultSucceeded  = "succeeded"
	ResultFailed     = "failed"
)

var ErrNotConfirmed = errors.New("charge request not confirmed by broker")

// Charge asks the gateway to collect Amount from the rider and route Amount minus PlatformFee to PayeeAccount.
type Charge struct {
	RideID       types.ID    `json:"ride_id"`
	Amount       types.Money `json:"amount"`
	PayeeAccount string      `json:"payee_account"`
	PlatformFee  types.Money `json:"platform_fee"`
	RequestedAt  time.Time   `json:"requested_at"`
}

func (c Charge) Validate() error {
	if c.RideID == "" {
		return errors.New("ride id is required")
	}
	if c.Amount.Amount <= 0 {
		return fmt.Errorf("charge amount must be positive, got %d", c.Amount.Amount)
	}
	if c.PlatformFee.Amount < 0 || c.PlatformFee.Amount > c.Amount.Amount {
		return fmt.Errorf("platform fee %d out of range", c.PlatformFee.Amount)
	}
	return nil
}

type Gateway interface {
	ChargeOrSplit(ctx context.Context, c Charge) error
}

// Result is the asynchronous completion delivered to POST /api/payments/webhook.
type Result struct {
	RideID types.ID `json:"ride_id"`
	Status string   `json:"status"`
	Ref    string   `json:"reference"`
}

func (r Result) Succeeded() (bool, error) {
	switch r.Status {
	case ResultSucceeded:
		return true, nil
	case ResultFailed:
		return false, nil
	default:
		return false, fmt.Errorf("unknown payment result %q", r.Status)
	}
}

// AMQPGateway publishes charge requests with publisher confirms.
type AMQPGateway struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPGateway(conn *amqp.Connection) (*AMQPGateway, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPGateway{ch: ch}, nil
}

func (g *AMQPGateway) ChargeOrSplit(ctx context.Context, c Charge) error {
	if err := c.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}

	g.mu.Lock()
	dc, err := g.ch.PublishWithDeferredConfirmWithContext(ctx,
		Exchange,
		ChargeRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			MessageId:     string(c.RideID),
			CorrelationId: string(c.RideID),
			Timestamp:     time.Now(),
		})
	g.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish charge: %w", err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

func (g *AMQPGateway) Close() error {
	return g.ch.Close()
}

// LogGateway accepts every charge and only logs it; used when no broker is configured.
type LogGateway struct {
	Logger *slog.Logger
}

func (g LogGateway) ChargeOrSplit(ctx context.Context, c Charge) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if g.Logger != nil {
		g.Logger.InfoContext(ctx, "charge accepted without broker",
			"ride_id", c.RideID, "amount", c.Amount.Amount, "platform_fee", c.PlatformFee.Amount)
	}
	return nil
}
