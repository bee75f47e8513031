// Package middleware holds cross-cutting fiber handlers shared by every route group.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const correlationLocal = "correlation_id"

// CorrelationID ensures every request carries a correlation identifier,
// reusing an inbound X-Correlation-ID/X-Request-ID header when present. The
// id tags every log line for the request, rides along on error envelopes,
// and identifies long-lived SSE attachments in the run engine's logs.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get("X-Correlation-ID"))
		if id == "" {
			id = strings.TrimSpace(c.Get("X-Request-ID"))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(correlationLocal, id)
		c.Set("X-Correlation-ID", id)

		return c.Next()
	}
}

// GetCorrelationID returns the correlation identifier bound to the active
// request, or "" when the middleware did not run.
func GetCorrelationID(c *fiber.Ctx) string {
	if id, ok := c.Locals(correlationLocal).(string); ok {
		return id
	}
	return ""
}

// RequestLogger narrows base with the request's correlation id so log lines
// emitted after the handler returns (an SSE stream writer, a detached run
// body) stay attributable to the request that started them.
func RequestLogger(c *fiber.Ctx, base zerolog.Logger) zerolog.Logger {
	id := GetCorrelationID(c)
	if id == "" {
		return base
	}
	return base.With().Str(correlationLocal, id).Logger()
}
