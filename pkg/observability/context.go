package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Log attribute keys added from the context.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	OperationKey     = "operation"
)

// trace is the set of IDs a request carries. It is stored by value so each
// With call leaves the parent context untouched.
type trace struct {
	correlationID string
	requestID     string
	operation     string
}

type traceKey struct{}

func traceFrom(ctx context.Context) trace {
	if ctx == nil {
		return trace{}
	}
	t, _ := ctx.Value(traceKey{}).(trace)
	return t
}

func withTrace(ctx context.Context, edit func(*trace)) context.Context {
	t := traceFrom(ctx)
	edit(&t)
	return context.WithValue(ctx, traceKey{}, t)
}

// WithCorrelationID tags ctx with the ID that follows one logical request
// across processes, generating one when id is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return withTrace(ctx, func(t *trace) { t.correlationID = id })
}

func CorrelationIDFromContext(ctx context.Context) string {
	return traceFrom(ctx).correlationID
}

// WithRequestID tags ctx with the ID of a single inbound HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return withTrace(ctx, func(t *trace) { t.requestID = id })
}

func RequestIDFromContext(ctx context.Context) string {
	return traceFrom(ctx).requestID
}

// WithOperation names the availability query in progress, e.g. "free_slots".
func WithOperation(ctx context.Context, op string) context.Context {
	return withTrace(ctx, func(t *trace) { t.operation = op })
}

func OperationFromContext(ctx context.Context) string {
	return traceFrom(ctx).operation
}

func (t trace) attrs() []slog.Attr {
	var out []slog.Attr
	if t.correlationID != "" {
		out = append(out, slog.String(CorrelationIDKey, t.correlationID))
	}
	if t.requestID != "" {
		out = append(out, slog.String(RequestIDKey, t.requestID))
	}
	if t.operation != "" {
		out = append(out, slog.String(OperationKey, t.operation))
	}
	return out
}
