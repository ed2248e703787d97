package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
)

// Locals keys set by JWT.
const (
	LocalUserID = "user_id"
	LocalEmail  = "email"
	LocalRole   = "role"
	LocalToken  = "token"
)

type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*auth.Identity, error)
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "error", "message": msg})
}

// JWT requires a valid, unrevoked bearer token.
func JWT(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return unauthorized(c, "missing bearer token")
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		id, err := authn.CurrentUser(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}
		c.Locals(LocalUserID, id.ID)
		c.Locals(LocalEmail, id.Email)
		c.Locals(LocalRole, id.Role)
		c.Locals(LocalToken, token)
		return c.Next()
	}
}

func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(LocalRole).(string); role != auth.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"status": "error", "message": "admin only"})
		}
		return c.Next()
	}
}

// UserID returns the authenticated user set by JWT.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(LocalUserID).(string)
	return uid
}

func Email(c *fiber.Ctx) string {
	email, _ := c.Locals(LocalEmail).(string)
	return email
}
