package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": msg})
}

// fail writes err using its apperr kind. Internal causes are not exposed.
func fail(c *fiber.Ctx, err error) error {
	return JSONError(c, apperr.Status(err), apperr.Message(err))
}

// ErrorHandler is the fiber.Config error handler. It keeps errors returned
// from handlers and fiber itself in the same envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return JSONError(c, fe.Code, fe.Message)
	}
	return fail(c, err)
}

// ValidationError is one failed field of a request body.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func FormatValidationErrors(err error) []ValidationError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]ValidationError, len(ve))
	for i, fe := range ve {
		out[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag()}
		switch fe.Tag() {
		case "required":
			out[i].Message = fmt.Sprintf("%s is required", fe.Field())
		case "email":
			out[i].Message = fmt.Sprintf("%s must be a valid email address", fe.Field())
		case "min":
			out[i].Message = fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
		case "max":
			out[i].Message = fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
		case "url":
			out[i].Message = fmt.Sprintf("%s must be a valid URL", fe.Field())
		case "hexcolor":
			out[i].Message = fmt.Sprintf("%s must be a hex color", fe.Field())
		default:
			out[i].Message = fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
		}
	}
	return out
}

// bind parses the body into dst and validates its tags. When it reports
// false the error response has been written and err is the write result.
func bind(c *fiber.Ctx, v *validator.Validate, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, JSONError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "validation failed",
			"errors":  FormatValidationErrors(err),
		})
	}
	return true, nil
}
