package audit

import (
	"go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type AuditApi struct {
	controller *AuditController
	config     *config.Config
}

func NewAuditApi(controller *AuditController, config *config.Config) api.Route {
	return &AuditApi{
		controller: controller,
		config:     config,
	}
}

func (h *AuditApi) Setup(app *fiber.App) {
	audit := app.Group("/api/audit-logs", middleware.AuthMiddleware(h.config.SkipAuth), middleware.AdminMiddleware())

	audit.Get("/", h.controller.ListLogs)
}
