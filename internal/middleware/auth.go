package middleware

import (
	"go-evidence/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// DevUserID is the actor injected when authentication is skipped.
const DevUserID = "dev-admin-id"

// AuthMiddleware validates JWT tokens and injects user claims into context
func AuthMiddleware(skipAuth bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if skipAuth {
			c.Locals(utils.UserClaimsKey, &utils.UserClaims{
				UserID: DevUserID,
				Roles:  []string{"admin"},
			})
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization header required",
			})
		}

		// Extract token from "Bearer <token>"
		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := utils.ValidateToken(authHeader[7:])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(utils.UserClaimsKey, claims)
		return c.Next()
	}
}

// CurrentUserID returns the authenticated user id, or "" when the request
// did not pass AuthMiddleware.
func CurrentUserID(c *fiber.Ctx) string {
	if claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims); ok {
		return claims.UserID
	}
	return ""
}
