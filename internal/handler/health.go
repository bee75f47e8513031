package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/benchlab/run-engine/internal/config"
	"github.com/benchlab/run-engine/internal/utils"
)

// HealthCheck reports basic liveness information for the service.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return utils.SendSuccess(c, "ok", fiber.Map{
			"service": cfg.AppName,
			"env":     cfg.AppEnv,
		})
	}
}
