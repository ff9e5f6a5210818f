// README: Durable notification records delivered to riders and drivers.
package notification

import (
	"errors"
	"time"

	"rideflow/internal/types"
)

type Type string

const (
	TypeRideRequest   Type = "ride_request"
	TypeRideAccepted  Type = "ride_accepted"
	TypeRideStatus    Type = "ride_status"
	TypeRideCancelled Type = "ride_cancelled"
	TypeRideRated     Type = "ride_rated"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID         types.ID          `json:"id"`
	SenderID   types.ID          `json:"sender_id"`
	ReceiverID types.ID          `json:"receiver_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Type       Type              `json:"type"`
	Data       map[string]string `json:"data,omitempty"`
	Read       bool              `json:"read"`
	CreatedAt  time.Time         `json:"created_at"`
}
