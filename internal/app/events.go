package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/eventbus"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/outbox"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// MetricDegradedEvents counts degradation events seen by the worker.
const MetricDegradedEvents = "availability.degraded_events"

// Broker returns the publisher the outbox relays to: RabbitMQ when
// configured, otherwise a local bus that feeds the degradation consumer
// directly.
func (c *Container) Broker() (eventbus.Publisher, error) {
	if c.Config.RabbitMQURL != "" {
		pub, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Config.RabbitMQExchange, c.Logger)
		if err == nil {
			return pub, nil
		}
		if c.Config.IsProduction() {
			return nil, err
		}
		c.Logger.Warn("RabbitMQ not available, using local event bus", "error", err)
	}
	bus := eventbus.NewLocalBus(c.Logger)
	bus.Subscribe(NewDegradationConsumer(c.Logger, c.Metrics))
	return bus, nil
}

// Subscriber returns the receiving side of pub with the degradation
// consumer subscribed. A local bus is its own subscriber.
func (c *Container) Subscriber(pub eventbus.Publisher) (eventbus.Subscriber, error) {
	if bus, ok := pub.(*eventbus.LocalBus); ok {
		return bus, nil
	}
	sub, err := eventbus.NewRabbitMQSubscriber(eventbus.RabbitMQSubscriberConfig{
		URL:                c.Config.RabbitMQURL,
		Exchange:           c.Config.RabbitMQExchange,
		DeadLetterExchange: c.Config.RabbitMQDeadLetter,
		Logger:             c.Logger,
	})
	if err != nil {
		return nil, err
	}
	sub.Subscribe(NewDegradationConsumer(c.Logger, c.Metrics))
	return sub, nil
}

// NewOutboxProcessor creates the relay from the outbox to pub. It returns
// nil when events are disabled.
func (c *Container) NewOutboxProcessor(pub eventbus.Publisher) *outbox.Processor {
	if c.Outbox == nil {
		return nil
	}
	cfg := outbox.DefaultConfig()
	if c.Config.OutboxPollInterval > 0 {
		cfg.PollInterval = c.Config.OutboxPollInterval
	}
	if c.Config.OutboxMaxAttempts > 0 {
		cfg.MaxAttempts = c.Config.OutboxMaxAttempts
	}
	cfg.Retention = c.Config.OutboxRetention
	return outbox.NewProcessor(c.Outbox, pub, cfg, c.Logger).WithMetrics(c.Metrics)
}

// DegradationConsumer logs and counts source degradation events.
type DegradationConsumer struct {
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewDegradationConsumer creates the consumer.
func NewDegradationConsumer(logger *slog.Logger, metrics observability.Metrics) *DegradationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &DegradationConsumer{logger: logger, metrics: metrics}
}

func (d *DegradationConsumer) Topics() []string {
	return []string{application.RoutingKeySourceDegraded}
}

func (d *DegradationConsumer) Handle(ctx context.Context, env eventbus.Envelope) error {
	var event application.SourceDegradedEvent
	if err := json.Unmarshal(env.Body, &event); err != nil {
		return fmt.Errorf("decode %s %s: %w", env.RoutingKey, env.ID, err)
	}
	d.metrics.Counter(MetricDegradedEvents, 1, observability.T("operation", event.Operation))
	for _, f := range event.Failures {
		d.logger.WarnContext(ctx, "availability answer was degraded",
			"operation", event.Operation,
			"source", f.Source,
			"resource_id", f.ResourceID,
			"identity", f.Identity,
			"error", f.Error,
		)
	}
	return nil
}
