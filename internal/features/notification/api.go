package notification

import (
	"go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// NotificationApi serves the caller's own notifications. Every route is
// scoped to the authenticated user id.
type NotificationApi struct {
	controller *NotificationController
	skipAuth   bool
}

func NewNotificationApi(controller *NotificationController, cfg *config.Config) api.Route {
	return &NotificationApi{
		controller: controller,
		skipAuth:   cfg.SkipAuth,
	}
}

func (h *NotificationApi) Setup(app *fiber.App) {
	inbox := app.Group("/api/notifications", middleware.AuthMiddleware(h.skipAuth))

	inbox.Get("/", h.controller.List)
	inbox.Get("/unread-count", h.controller.GetUnreadCount)
	inbox.Post("/mark-all-read", h.controller.MarkAllAsRead)
	inbox.Delete("/read", h.controller.ClearRead)
	inbox.Put("/:id/read", h.controller.MarkAsRead)
}
