// Package outbox stores events in the database before they reach the
// broker, so a query never blocks on RabbitMQ and no event is lost when
// the broker is down.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/robpanda/panda-crm/internal/shared/infrastructure/eventbus"
)

// State is where a message is in its relay lifecycle.
type State string

const (
	StatePending   State = "pending"
	StatePublished State = "published"
	StateDead      State = "dead"
)

var (
	ErrNoRoutingKey   = errors.New("outbox: routing key is required")
	ErrInvalidPayload = errors.New("outbox: payload must be valid JSON")
)

// Message is one stored event. Zero times mean "not yet".
type Message struct {
	ID            uuid.UUID
	RoutingKey    string
	CorrelationID string
	Payload       json.RawMessage
	CreatedAt     time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	PublishedAt   time.Time
	DeadAt        time.Time
}

// NewMessage validates and stamps a message.
func NewMessage(routingKey, correlationID string, payload []byte, now time.Time) (*Message, error) {
	if routingKey == "" {
		return nil, ErrNoRoutingKey
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	return &Message{
		ID:            uuid.New(),
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		Payload:       json.RawMessage(payload),
		CreatedAt:     now.UTC(),
	}, nil
}

func (m *Message) State() State {
	switch {
	case !m.DeadAt.IsZero():
		return StateDead
	case !m.PublishedAt.IsZero():
		return StatePublished
	default:
		return StatePending
	}
}

// Due reports whether a pending message may be attempted at now.
func (m *Message) Due(now time.Time) bool {
	return m.State() == StatePending && !m.NextAttemptAt.After(now)
}

// Envelope is the bus form of the message. The outbox ID doubles as the
// envelope ID so subscribers can drop relay duplicates.
func (m *Message) Envelope() eventbus.Envelope {
	return eventbus.Envelope{
		ID:            m.ID.String(),
		RoutingKey:    m.RoutingKey,
		CorrelationID: m.CorrelationID,
		OccurredAt:    m.CreatedAt,
		Body:          m.Payload,
	}
}

// Store persists outbox messages.
type Store interface {
	Append(ctx context.Context, msg *Message) error
	// Due returns up to limit pending messages whose next attempt is not
	// after now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// Reschedule counts a failed attempt and sets when to try again.
	Reschedule(ctx context.Context, id uuid.UUID, cause string, next time.Time) error
	// Bury counts a final failed attempt and stops further relaying.
	Bury(ctx context.Context, id uuid.UUID, cause string, at time.Time) error
	// Purge deletes messages published before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
