package notification

import (
	"errors"
	"strconv"

	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type NotificationController struct {
	service NotificationService
}

func NewNotificationController(service NotificationService) *NotificationController {
	return &NotificationController{
		service: service,
	}
}

// List returns the caller's notifications, newest first.
func (c *NotificationController) List(ctx *fiber.Ctx) error {
	userID := middleware.CurrentUserID(ctx)

	page, _ := strconv.ParseInt(ctx.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(ctx.Query("limit", "10"), 10, 64)

	notifications, total, err := c.service.GetUserNotifications(ctx.UserContext(), userID, page, limit)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return ctx.JSON(fiber.Map{
		"data":  notifications,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (c *NotificationController) GetUnreadCount(ctx *fiber.Ctx) error {
	count, err := c.service.GetUnreadCount(ctx.UserContext(), middleware.CurrentUserID(ctx))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(fiber.Map{"count": count})
}

func (c *NotificationController) MarkAsRead(ctx *fiber.Ctx) error {
	err := c.service.MarkAsRead(ctx.UserContext(), ctx.Params("id"), middleware.CurrentUserID(ctx))
	if errors.Is(err, ErrNotFound) {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
	}
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(fiber.Map{"status": "success"})
}

func (c *NotificationController) MarkAllAsRead(ctx *fiber.Ctx) error {
	if err := c.service.MarkAllAsRead(ctx.UserContext(), middleware.CurrentUserID(ctx)); err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(fiber.Map{"status": "success"})
}

// ClearRead deletes notifications the caller has already read.
func (c *NotificationController) ClearRead(ctx *fiber.Ctx) error {
	n, err := c.service.ClearRead(ctx.UserContext(), middleware.CurrentUserID(ctx))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(fiber.Map{"deleted": n})
}
