package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
)

type AuthHandler struct {
	svc *auth.Service
	dir *service.DirectoryService
}

func NewAuthHandler(svc *auth.Service, dir *service.DirectoryService) *AuthHandler {
	return &AuthHandler{svc: svc, dir: dir}
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp creates the account and signs it in.
// POST /auth/signup
func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req credentialsReq
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid body")
	}
	if _, err := h.svc.SignUp(c.UserContext(), req.Email, req.Password); err != nil {
		return fail(c, err)
	}
	sess, err := h.svc.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusCreated, sess)
}

// POST /auth/login
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req credentialsReq
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid body")
	}
	sess, err := h.svc.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, sess)
}

// POST /auth/logout
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	token, _ := c.Locals(middleware.LocalToken).(string)
	if err := h.svc.SignOut(c.UserContext(), token); err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"message": "signed_out"})
}

// POST /auth/password-reset
func (h *AuthHandler) RequestReset(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid body")
	}
	if err := h.svc.SendPasswordReset(c.UserContext(), req.Email); err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusAccepted, fiber.Map{"message": "reset_sent"})
}

// POST /auth/password-reset/confirm
func (h *AuthHandler) ConfirmReset(c *fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid body")
	}
	if err := h.svc.ResetPassword(c.UserContext(), req.Token, req.Password); err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"message": "password_updated"})
}

// Me returns the identity and, once saved, the profile of the caller.
// GET /auth/me
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	out := fiber.Map{"id": uid, "email": middleware.Email(c), "profile": nil}
	if role, _ := c.Locals(middleware.LocalRole).(string); role != "" {
		out["role"] = role
	}
	u, err := h.dir.Get(c.UserContext(), uid)
	switch {
	case err == nil:
		out["profile"] = u
	case !errors.Is(err, apperr.ErrNotFound):
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, out)
}
