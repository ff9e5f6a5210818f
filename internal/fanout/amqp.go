// README: RabbitMQ adapter publishing ride events to a topic exchange.
package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const RideEventsExchange = "ride_events"

type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		RideEventsExchange, // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", RideEventsExchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: RideEventsExchange}, nil
}

// RoutingKey maps "driver:<id>" to "driver.<id>" so consumers can bind "driver.*".
func RoutingKey(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

func (p *AMQPPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	body, err := Encode(channel, event, payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,          // exchange
		RoutingKey(channel), // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         event,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", channel, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
