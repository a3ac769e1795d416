package outbox

import (
	"context"
	"time"

	"github.com/robpanda/panda-crm/pkg/observability"
)

// Writer records events in the outbox. The Processor relays them later.
type Writer struct {
	store Store
	now   func() time.Time
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Publish appends payload under routingKey, tagged with the correlation ID
// carried by ctx.
func (w *Writer) Publish(ctx context.Context, routingKey string, payload []byte) error {
	msg, err := NewMessage(routingKey, observability.CorrelationIDFromContext(ctx), payload, w.now())
	if err != nil {
		return err
	}
	return w.store.Append(ctx, msg)
}
