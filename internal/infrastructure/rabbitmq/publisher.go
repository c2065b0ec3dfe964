// Package rabbitmq publishes lifecycle events to a topic exchange so kitchen
// displays and other consumers can subscribe by event kind.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prontopos/pronto-core/internal/domain/outbox"
)

const (
	ExchangeName = "pronto.orders"

	connectRetries = 5
	connectBackoff = 2 * time.Second
)

// Publisher fans envelopes out on a durable topic exchange with routing key
// "order.<kind>".
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func Connect(amqpURL string) (*Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i <= connectRetries; i++ {
		conn, err = amqp.Dial(amqpURL)
		if err == nil {
			break
		}
		time.Sleep(connectBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", ExchangeName, err)
	}

	return &Publisher{conn: conn, channel: ch}, nil
}

// Publish sends one envelope. Broker failures are wrapped as transient so the
// outbox worker retries instead of dead-lettering.
func (p *Publisher) Publish(ctx context.Context, env outbox.Envelope) error {
	routingKey := "order." + env.Kind

	err := p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%d", env.ID),
			Timestamp:    env.CreatedAt,
			Type:         env.Kind,
			Body:         env.Payload,
		})
	if err != nil {
		return outbox.Transient(fmt.Errorf("publish %s: %w", routingKey, err))
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}
