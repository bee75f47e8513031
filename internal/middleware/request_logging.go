package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RequestLogging logs one structured line per request, tagging it with the
// correlation id CorrelationID() attached earlier in the chain.
func RequestLogging(logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "http").Logger()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		event := log.Info()
		if c.Response().StatusCode() >= 500 {
			event = log.Error()
		} else if c.Response().StatusCode() >= 400 {
			event = log.Warn()
		}

		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("elapsed", elapsed).
			Msg("request handled")

		return err
	}
}
