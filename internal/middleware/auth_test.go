package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"go-evidence/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(skip bool) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(skip), func(c *fiber.Ctx) error {
		return c.SendString(CurrentUserID(c))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	utils.SetSecret("middleware-secret")
	token, err := utils.GenerateToken("user-7", nil, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"bad token", "Bearer not-a-token", fiber.StatusUnauthorized},
		{"valid token", "Bearer " + token, fiber.StatusOK},
	}

	app := newAuthApp(false)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAuthMiddlewareSkip(t *testing.T) {
	resp, err := newAuthApp(true).Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := make([]byte, len(DevUserID))
	_, _ = resp.Body.Read(body)
	assert.Equal(t, DevUserID, string(body))
}

func TestAdminMiddleware(t *testing.T) {
	utils.SetSecret("middleware-secret")
	app := fiber.New()
	app.Get("/admin", AuthMiddleware(false), AdminMiddleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	cases := []struct {
		name   string
		roles  []string
		status int
	}{
		{"no roles", nil, fiber.StatusForbidden},
		{"viewer", []string{"viewer"}, fiber.StatusForbidden},
		{"admin", []string{"viewer", "Admin"}, fiber.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := utils.GenerateToken("user-7", tc.roles, time.Hour)
			require.NoError(t, err)
			req := httptest.NewRequest("GET", "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
