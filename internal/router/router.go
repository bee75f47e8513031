// Package router wires every handler group into the fiber application.
package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/benchlab/run-engine/internal/config"
	"github.com/benchlab/run-engine/internal/handler"
)

// Dependencies groups every handler the router registers.
type Dependencies struct {
	RunHandler        *handler.RunHandler
	ProviderHandler   *handler.ProviderHandler
	ModelHandler      *handler.ModelHandler
	ProblemSetHandler *handler.ProblemSetHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/metrics", metricsHandler())

	if deps.RunHandler != nil {
		deps.RunHandler.Register(api.Group("/runs"))
	}
	if deps.ProviderHandler != nil {
		deps.ProviderHandler.Register(api.Group("/providers"))
	}
	if deps.ModelHandler != nil {
		deps.ModelHandler.Register(api.Group("/models"))
	}
	if deps.ProblemSetHandler != nil {
		deps.ProblemSetHandler.Register(api.Group("/problem-sets"))
	}
}

// metricsHandler exposes the Prometheus registry through fasthttpadaptor,
// since fiber's *fiber.Ctx is not a net/http handler.
func metricsHandler() fiber.Handler {
	fastHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		fastHandler(c.Context())
		return nil
	}
}
