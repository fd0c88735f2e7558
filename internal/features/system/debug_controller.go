package system

import (
	"go-evidence/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type DebugController struct{}

func NewDebugController() *DebugController {
	return &DebugController{}
}

// GetCurrentUser echoes the identity resolved from the bearer token.
func (c *DebugController) GetCurrentUser(ctx *fiber.Ctx) error {
	claims, ok := ctx.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	return ctx.JSON(fiber.Map{
		"user_id": claims.UserID,
		"roles":   claims.Roles,
	})
}
