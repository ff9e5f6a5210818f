// README: Redis pub/sub adapter; also relays published envelopes into the local websocket hub.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "rideflow:"

type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	body, err := Encode(channel, event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Relay forwards every envelope published under the prefix to hub until ctx ends.
func (p *RedisPublisher) Relay(ctx context.Context, hub *Hub, log *slog.Logger) error {
	sub := p.client.PSubscribe(ctx, p.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("drop malformed fanout envelope", "channel", msg.Channel, "error", err)
				continue
			}
			hub.Deliver(strings.TrimPrefix(msg.Channel, p.prefix), []byte(msg.Payload))
		}
	}
}
