package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// RoutingKeySourceDegraded is published when a query absorbed source failures.
const RoutingKeySourceDegraded = "availability.source.degraded"

// EventPublisher publishes raw payloads to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// SourceDegradedEvent tells downstream consumers that an answer was best-effort.
type SourceDegradedEvent struct {
	Operation   string                 `json:"operation"`
	ResourceIDs []domain.ResourceID    `json:"resource_ids"`
	Failures    []SourceFailurePayload `json:"failures"`
	WindowStart time.Time              `json:"window_start"`
	WindowEnd   time.Time              `json:"window_end"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// SourceFailurePayload is the wire form of a SourceFailure.
type SourceFailurePayload struct {
	Source     string            `json:"source"`
	ResourceID domain.ResourceID `json:"resource_id,omitempty"`
	Identity   string            `json:"identity,omitempty"`
	Error      string            `json:"error"`
}

func newSourceDegradedEvent(op string, ids []domain.ResourceID, window domain.TimeInterval, failures []SourceFailure, now time.Time) SourceDegradedEvent {
	payload := make([]SourceFailurePayload, len(failures))
	for i, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		payload[i] = SourceFailurePayload{
			Source:     f.Source,
			ResourceID: f.ResourceID,
			Identity:   f.Identity,
			Error:      msg,
		}
	}
	return SourceDegradedEvent{
		Operation:   op,
		ResourceIDs: ids,
		Failures:    payload,
		WindowStart: window.Start.UTC(),
		WindowEnd:   window.End.UTC(),
		OccurredAt:  now.UTC(),
	}
}

func (e SourceDegradedEvent) marshal() ([]byte, error) {
	return json.Marshal(e)
}
