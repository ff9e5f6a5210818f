package notification

import (
	"context"
	"errors"
	"testing"

	"rideflow/internal/apperr"
)

type recordingPusher struct {
	tokens []string
	err    error
}

func (p *recordingPusher) Push(_ context.Context, token string, _ Notification) error {
	p.tokens = append(p.tokens, token)
	return p.err
}

func TestCreate_PersistsAndPushes(t *testing.T) {
	store := NewMemoryStore()
	pusher := &recordingPusher{}
	svc := NewService(store, pusher, nil)
	ctx := context.Background()

	n, err := svc.Create(ctx, CreateCommand{
		SenderID:    "c1",
		ReceiverID:  "u-d1",
		Title:       "New ride request",
		Message:     "Pickup at Main St",
		Type:        TypeRideRequest,
		Data:        map[string]string{"ride_id": "r1"},
		DeviceToken: "tok",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("missing id or timestamp: %+v", n)
	}
	if len(pusher.tokens) != 1 || pusher.tokens[0] != "tok" {
		t.Fatalf("expected one push, got %v", pusher.tokens)
	}

	list, err := svc.ListForReceiver(ctx, "u-d1", 0)
	if err != nil || len(list) != 1 || list[0].Data["ride_id"] != "r1" {
		t.Fatalf("unexpected list %+v (%v)", list, err)
	}
	if list, _ := svc.ListForReceiver(ctx, "c1", 10); len(list) != 0 {
		t.Fatalf("sender must not see receiver notifications")
	}
}

func TestCreate_PushFailureDoesNotFail(t *testing.T) {
	svc := NewService(NewMemoryStore(), &recordingPusher{err: errors.New("fcm down")}, nil)
	if _, err := svc.Create(context.Background(), CreateCommand{ReceiverID: "u1", Title: "t", DeviceToken: "tok"}); err != nil {
		t.Fatalf("push failure must not fail create: %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)
	if _, err := svc.Create(context.Background(), CreateCommand{Title: "t"}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateCommand{ReceiverID: "u1"}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListForReceiver_NewestFirstAndMarkRead(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)
	ctx := context.Background()
	first, _ := svc.Create(ctx, CreateCommand{ReceiverID: "u1", Title: "first"})
	second, _ := svc.Create(ctx, CreateCommand{ReceiverID: "u1", Title: "second"})

	list, _ := svc.ListForReceiver(ctx, "u1", 10)
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if err := svc.MarkRead(ctx, first.ID, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, first.ID, "someone-else"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMessage(t *testing.T) {
	m := Message("tok", Notification{ID: "n1", Type: TypeRideAccepted, Title: "Accepted", Message: "On the way", Data: map[string]string{"ride_id": "r1"}})
	if m.Token != "tok" || m.Data["type"] != "ride_accepted" || m.Data["ride_id"] != "r1" || m.Data["notification_id"] != "n1" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Notification.Title != "Accepted" || m.Android.Priority != "high" {
		t.Fatalf("unexpected notification block %+v", m.Notification)
	}
}
