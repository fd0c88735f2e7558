package lifecycle

import (
	"go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type LifecycleApi struct {
	controller *LifecycleController
	config     *config.Config
}

func NewLifecycleApi(controller *LifecycleController, config *config.Config) api.Route {
	return &LifecycleApi{
		controller: controller,
		config:     config,
	}
}

func (h *LifecycleApi) Setup(app *fiber.App) {
	group := app.Group("/api/lifecycle",
		middleware.AuthMiddleware(h.config.SkipAuth),
		middleware.AdminMiddleware(),
	)

	group.Post("/sweep", h.controller.Sweep)
	group.Get("/report.xlsx", h.controller.ExportReport)
	group.Get("/runs", h.controller.ListRuns)
}
