// README: Notification service persists records and pushes them to devices best-effort.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rideflow/internal/apperr"
	"rideflow/internal/types"
)

const DefaultListLimit = 50

type Service struct {
	store  Repository
	pusher Pusher
	log    *slog.Logger
	now    func() time.Time
}

// NewService accepts a nil pusher; notifications are then stored only.
func NewService(store Repository, pusher Pusher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, pusher: pusher, log: logger.With("module", "notification"), now: time.Now}
}

type CreateCommand struct {
	SenderID    types.ID
	ReceiverID  types.ID
	Title       string
	Message     string
	Type        Type
	Data        map[string]string
	DeviceToken string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Notification, error) {
	if cmd.ReceiverID == "" {
		return Notification{}, apperr.ValidationError{Field: "receiver_id", Msg: "is required"}
	}
	if cmd.Title == "" {
		return Notification{}, apperr.ValidationError{Field: "title", Msg: "is required"}
	}
	n := Notification{
		ID:         types.NewID(),
		SenderID:   cmd.SenderID,
		ReceiverID: cmd.ReceiverID,
		Title:      cmd.Title,
		Message:    cmd.Message,
		Type:       cmd.Type,
		Data:       cmd.Data,
		CreatedAt:  s.now(),
	}
	if err := s.store.Create(ctx, &n); err != nil {
		return Notification{}, fmt.Errorf("store notification: %w", err)
	}
	if cmd.DeviceToken != "" && s.pusher != nil {
		if err := s.pusher.Push(ctx, cmd.DeviceToken, n); err != nil {
			s.log.WarnContext(ctx, "push failed", "notification_id", n.ID, "receiver_id", n.ReceiverID, "error", err)
		}
	}
	return n, nil
}

func (s *Service) ListForReceiver(ctx context.Context, receiverID types.ID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.store.ListForReceiver(ctx, receiverID, limit)
}

func (s *Service) MarkRead(ctx context.Context, id, receiverID types.ID) error {
	if err := s.store.MarkRead(ctx, id, receiverID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFoundError{Resource: "notification", Err: err}
		}
		return err
	}
	return nil
}
