// README: Event fan-out contract; publishers deliver ride events to per-user channels.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rideflow/internal/types"
)

// Event names published by the dispatch core.
const (
	EventRideRequested = "ride.requested"
	EventRideAccepted  = "ride.accepted"
	EventRideStatus    = "ride.status"
	EventRideCancelled = "ride.cancelled"
	EventRideCompleted = "ride.completed"
	EventRideRated     = "ride.rated"
)

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

func ChannelDriver(userID types.ID) string   { return "driver:" + string(userID) }
func ChannelCustomer(userID types.ID) string { return "customer:" + string(userID) }

// ChannelFor returns the channel a user with role listens on.
func ChannelFor(role types.Role, userID types.ID) string {
	if role == types.RoleDriver {
		return ChannelDriver(userID)
	}
	return ChannelCustomer(userID)
}

// Envelope is the wire form shared by every adapter.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

func Encode(channel, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Channel: channel, Event: event, Payload: raw, At: time.Now().UTC()})
}

type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Multi publishes to every adapter and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, channel, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
