// README: Firebase Cloud Messaging push for notifications addressed to a device.
package notification

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

type Pusher interface {
	Push(ctx context.Context, deviceToken string, n Notification) error
}

type FCMPusher struct {
	client *messaging.Client
}

func NewFCMPusher(ctx context.Context, app *firebase.App) (*FCMPusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

// Message builds the FCM payload; data keys mirror Notification.Data plus type and id.
func Message(deviceToken string, n Notification) *messaging.Message {
	data := make(map[string]string, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = string(n.Type)
	data["notification_id"] = string(n.ID)
	return &messaging.Message{
		Token: deviceToken,
		Data:  data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

func (p *FCMPusher) Push(ctx context.Context, deviceToken string, n Notification) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token for notification %s", n.ID)
	}
	if _, err := p.client.Send(ctx, Message(deviceToken, n)); err != nil {
		return fmt.Errorf("sending FCM for notification %s: %w", n.ID, err)
	}
	return nil
}
