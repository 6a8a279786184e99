// Package trace provides trace ID generation and context propagation so that
// every log line produced while handling one inbound message can be correlated.
package trace

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateID returns a fresh trace ID of the form "t_<32 hex chars>".
func GenerateID() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns base annotated with the trace ID carried by ctx. When ctx has
// no trace ID, base is returned unchanged. A nil base means slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := FromContext(ctx); id != "" {
		return base.With("trace_id", id)
	}
	return base
}
