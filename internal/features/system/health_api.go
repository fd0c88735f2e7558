package system

import (
	"context"
	"time"

	"go-evidence/internal/common/api"
	"go-evidence/internal/database"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readyTimeout = 2 * time.Second

type HealthApi struct {
	db *database.Database
}

func NewHealthApi(db *database.Database) api.Route {
	return &HealthApi{db: db}
}

// Setup registers health, readiness and metrics routes
func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (h *HealthApi) HealthCheck(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Ready reports 503 while the database cannot be reached.
func (h *HealthApi) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"driver": h.db.Driver,
	})
}
