package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/noah-isme/gema-assess-api/internal/observability"
)

const (
	// CorrelationHeader carries the correlation id on requests and responses.
	CorrelationHeader = "X-Correlation-ID"
	requestIDHeader   = "X-Request-ID"
	localCorrelation  = "correlation_id"
)

// CorrelationID tags each request with the caller's X-Correlation-ID (or X-Request-ID), minting
// a uuid when neither is sent. The id is echoed back and carried on the user context, where
// services pick it up for their logs and for the jobs they enqueue.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(CorrelationHeader))
		if id == "" {
			id = strings.TrimSpace(c.Get(requestIDHeader))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(localCorrelation, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}

// GetCorrelationID returns the correlation id bound to the request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelation).(string); ok {
		return id
	}
	return observability.CorrelationID(c.UserContext())
}
