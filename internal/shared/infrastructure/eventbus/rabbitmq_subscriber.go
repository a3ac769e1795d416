package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue the worker consumes from.
const DefaultQueue = "panda.availability.worker"

// RabbitMQSubscriberConfig configures a queue subscription.
type RabbitMQSubscriberConfig struct {
	URL      string
	Exchange string
	Queue    string
	// DeadLetterExchange receives envelopes that failed twice. Empty drops them.
	DeadLetterExchange string
	Prefetch           int
	Logger             *slog.Logger
}

// RabbitMQSubscriber binds a durable queue to every subscribed topic and
// routes deliveries through a Router. A failed delivery is requeued once;
// if the redelivery fails too it is rejected for good.
type RabbitMQSubscriber struct {
	cfg    RabbitMQSubscriberConfig
	router *Router
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// NewRabbitMQSubscriber connects and declares the queue. Bindings are made
// in Start, once handlers are subscribed.
func NewRabbitMQSubscriber(cfg RabbitMQSubscriberConfig) (*RabbitMQSubscriber, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	conn, ch, err := dial(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}

	var args amqp.Table
	if cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	return &RabbitMQSubscriber{
		cfg:    cfg,
		router: NewRouter(0, cfg.Logger),
		conn:   conn,
		ch:     ch,
		logger: cfg.Logger,
	}, nil
}

func (s *RabbitMQSubscriber) Subscribe(h Handler) {
	s.router.Subscribe(h)
}

func (s *RabbitMQSubscriber) Start(ctx context.Context) error {
	topics := s.router.Topics()
	for _, topic := range topics {
		if err := s.ch.QueueBind(s.cfg.Queue, topic, s.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", s.cfg.Queue, topic, err)
		}
	}

	deliveries, err := s.ch.ConsumeWithContext(ctx, s.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.cfg.Queue, err)
	}
	s.logger.Info("rabbitmq subscriber started", "queue", s.cfg.Queue, "topics", topics)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			s.deliver(ctx, d)
		}
	}
}

func (s *RabbitMQSubscriber) deliver(ctx context.Context, d amqp.Delivery) {
	env := Envelope{
		ID:            d.MessageId,
		RoutingKey:    d.RoutingKey,
		CorrelationID: d.CorrelationId,
		OccurredAt:    d.Timestamp,
		Body:          d.Body,
	}
	err := s.router.Route(ctx, env)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			s.logger.Error("ack failed", "id", env.ID, "error", ackErr)
		}
		return
	}

	requeue := !d.Redelivered
	s.logger.WarnContext(ctx, "event handling failed",
		"id", env.ID,
		"routing_key", env.RoutingKey,
		"redelivered", d.Redelivered,
		"requeue", requeue,
		"error", err,
	)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		s.logger.Error("nack failed", "id", env.ID, "error", nackErr)
	}
}

func (s *RabbitMQSubscriber) Close() error {
	return errors.Join(s.ch.Close(), s.conn.Close())
}
