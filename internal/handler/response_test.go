package handler

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
)

func TestFormatValidationErrors(t *testing.T) {
	type req struct {
		Email string `validate:"required,email"`
		Color string `validate:"omitempty,hexcolor"`
	}
	err := validator.New().Struct(req{Color: "blue"})
	out := FormatValidationErrors(err)
	require.Len(t, out, 2)
	assert.Equal(t, "Email is required", out[0].Message)
	assert.Equal(t, "Color must be a hex color", out[1].Message)

	assert.Nil(t, FormatValidationErrors(nil))
}

func TestErrorHandlerEnvelope(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/missing", func(c *fiber.Ctx) error { return apperr.NotFound("test", "no such thing") })
	app.Get("/bad", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusBadRequest, "file missing") })
	app.Get("/boom", func(c *fiber.Ctx) error { return io.ErrUnexpectedEOF })

	cases := []struct {
		path   string
		status int
		msg    string
	}{
		{"/missing", fiber.StatusNotFound, "no such thing"},
		{"/bad", fiber.StatusBadRequest, "file missing"},
		{"/boom", fiber.StatusInternalServerError, "internal error"},
		{"/nope", fiber.StatusNotFound, "Cannot GET /nope"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", tc.path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, tc.msg, body["message"], tc.path)
	}
}
