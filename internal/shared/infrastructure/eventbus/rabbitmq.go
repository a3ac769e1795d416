package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange availability events are sent to.
const DefaultExchange = "panda.availability.events"

// ErrNotConfirmed is returned when the broker nacks a published envelope.
var ErrNotConfirmed = errors.New("broker did not confirm publish")

// dial opens a connection and channel and declares the durable topic
// exchange both sides share.
func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// RabbitMQPublisher publishes envelopes as persistent messages and waits for
// the broker to confirm each one.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	channel *amqp.Channel
}

// NewRabbitMQPublisher connects and puts the channel in confirm mode.
func NewRabbitMQPublisher(url, exchange string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, ch, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	logger.Info("rabbitmq publisher ready", "exchange", exchange)
	return &RabbitMQPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, env Envelope) error {
	occurred := env.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Timestamp:     occurred,
		Body:          env.Body,
	}

	// One channel serialises confirms; publishes are short.
	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, env.RoutingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.RoutingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", env.RoutingKey, err)
	}
	if !acked {
		return fmt.Errorf("%s: %w", env.RoutingKey, ErrNotConfirmed)
	}
	p.logger.DebugContext(ctx, "event published", "id", env.ID, "routing_key", env.RoutingKey)
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.channel.Close(), p.conn.Close())
}
