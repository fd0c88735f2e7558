package system

import (
	"go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// DebugApi is only mounted outside production.
type DebugApi struct {
	controller *DebugController
	skipAuth   bool
	enabled    bool
}

func NewDebugApi(controller *DebugController, cfg *config.Config) api.Route {
	return &DebugApi{
		controller: controller,
		skipAuth:   cfg.SkipAuth,
		enabled:    cfg.Environment != "production",
	}
}

func (h *DebugApi) Setup(app *fiber.App) {
	if !h.enabled {
		return
	}
	debug := app.Group("/api/debug", middleware.AuthMiddleware(h.skipAuth))
	debug.Get("/me", h.controller.GetCurrentUser)
}
