// Package eventbus moves availability events between the outbox relay and
// the handlers that react to them, over RabbitMQ or in process.
package eventbus

import (
	"context"
	"time"
)

// Envelope is one event on the bus. ID is stable across redeliveries so
// handlers can tell a retry from a new event.
type Envelope struct {
	ID            string
	RoutingKey    string
	CorrelationID string
	OccurredAt    time.Time
	Body          []byte
}

// Publisher sends envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Handler reacts to envelopes whose routing key matches one of its topics.
// Topics use AMQP syntax: "*" is one word, "#" is zero or more.
type Handler interface {
	Topics() []string
	Handle(ctx context.Context, env Envelope) error
}

// Subscriber delivers envelopes to handlers until Start returns.
type Subscriber interface {
	Subscribe(h Handler)
	// Start blocks until ctx is done or the subscription fails.
	Start(ctx context.Context) error
	Close() error
}
