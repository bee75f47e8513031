package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Instrument records per-route Prometheus counters and latency for every request.
func Instrument() fiber.Handler {
	RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := strconv.Itoa(c.Response().StatusCode())

		Requests().WithLabelValues(c.Method(), route, status).Inc()
		Latency().WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}
