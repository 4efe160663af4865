package observability

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

type correlationKey struct{}

// WithCorrelationID returns ctx carrying id. A blank id leaves ctx unchanged.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Logger returns base tagged with the correlation id of ctx, so a request and the jobs it
// queues can be followed across the api and worker logs.
func Logger(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	if id := CorrelationID(ctx); id != "" {
		base = base.With().Str("correlation_id", id).Logger()
	}
	return &base
}
