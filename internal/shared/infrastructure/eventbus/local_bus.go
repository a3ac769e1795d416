package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// LocalBus is a Publisher and Subscriber in one, for running without a
// broker. Publish delivers synchronously and never fails because of a
// handler; handler errors are only logged.
type LocalBus struct {
	router *Router
	logger *slog.Logger
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{router: NewRouter(0, logger), logger: logger}
}

func (b *LocalBus) Subscribe(h Handler) {
	b.router.Subscribe(h)
}

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	start := time.Now()
	if err := b.router.Route(ctx, env); err != nil {
		b.logger.ErrorContext(ctx, "local delivery failed",
			"id", env.ID,
			"routing_key", env.RoutingKey,
			"error", err,
		)
		return nil
	}
	b.logger.DebugContext(ctx, "event delivered locally",
		"routing_key", env.RoutingKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Start blocks until ctx is done; delivery happens inside Publish.
func (b *LocalBus) Start(ctx context.Context) error {
	b.logger.Info("local event bus running", "topics", b.router.Topics())
	<-ctx.Done()
	return ctx.Err()
}

func (b *LocalBus) Close() error {
	return nil
}
