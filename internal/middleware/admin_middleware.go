package middleware

import (
	"go-evidence/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

const RoleAdmin = "admin"

// AdminMiddleware checks if the user has admin role. It must run after
// AuthMiddleware.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		if len(claims.Roles) == 0 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Access denied: No roles assigned",
			})
		}

		if claims.HasRole(RoleAdmin) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Access denied: Admin role required",
		})
	}
}
