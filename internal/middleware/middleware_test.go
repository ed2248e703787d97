package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
)

type fakeAuth map[string]auth.Identity

func (f fakeAuth) CurrentUser(_ context.Context, token string) (*auth.Identity, error) {
	id, ok := f[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &id, nil
}

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(Recovery(zap.NewNop()))
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	app.Get("/", handlers...)
	return app
}

func get(t *testing.T, app *fiber.App, token string) int {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestJWT(t *testing.T) {
	authn := fakeAuth{
		"user":  {ID: "u1", Email: "u1@example.com"},
		"admin": {ID: "a1", Role: auth.RoleAdmin},
	}
	app := newApp(JWT(authn))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, ""))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "forged"))
	assert.Equal(t, fiber.StatusOK, get(t, app, "user"))

	admin := newApp(JWT(authn), AdminOnly())
	assert.Equal(t, fiber.StatusForbidden, get(t, admin, "user"))
	assert.Equal(t, fiber.StatusOK, get(t, admin, "admin"))
}

func TestRateLimit(t *testing.T) {
	app := newApp(RateLimit(NewLocalLimiter(), 2, zap.NewNop()))
	assert.Equal(t, fiber.StatusOK, get(t, app, ""))
	assert.Equal(t, fiber.StatusOK, get(t, app, ""))
	assert.Equal(t, fiber.StatusTooManyRequests, get(t, app, ""))
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	app := newApp(RateLimit(brokenLimiter{}, 1, zap.NewNop()))
	assert.Equal(t, fiber.StatusOK, get(t, app, ""))
	assert.Equal(t, fiber.StatusOK, get(t, app, ""))
}

func TestLocalLimiterSweep(t *testing.T) {
	l := NewLocalLimiter()
	ok, err := l.Allow(context.Background(), "k", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "k", 1, time.Hour)
	assert.False(t, ok)

	time.Sleep(5 * time.Millisecond)
	l.Sweep(time.Millisecond)
	ok, _ = l.Allow(context.Background(), "k", 1, time.Hour)
	assert.True(t, ok, "swept keys start with a fresh bucket")
}

func TestRecovery(t *testing.T) {
	app := newApp(func(c *fiber.Ctx) error { panic("boom") })
	assert.Equal(t, fiber.StatusInternalServerError, get(t, app, ""))
}
