package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
)

type UserHandler struct {
	dir      *service.DirectoryService
	tracker  *presence.Tracker
	presence *presence.ViewSource
	validate *validator.Validate
}

func NewUserHandler(dir *service.DirectoryService, tracker *presence.Tracker, store repository.PresenceStore) *UserHandler {
	return &UserHandler{
		dir:      dir,
		tracker:  tracker,
		presence: presence.NewViewSource(store),
		validate: validator.New(),
	}
}

// GET /users?q=
func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.dir.List(c.UserContext(), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, users)
}

// GET /users/:id
func (h *UserHandler) Get(c *fiber.Ctx) error {
	u, err := h.dir.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

// PUT /users/me
func (h *UserHandler) SaveProfile(c *fiber.Ctx) error {
	var req service.ProfileUpdate
	if ok, err := bind(c, h.validate, &req); !ok {
		return err
	}
	u, err := h.dir.Save(c.UserContext(), middleware.UserID(c), middleware.Email(c), req)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

// POST /users/me/photo (multipart/form-data 'file')
func (h *UserHandler) UploadPhoto(c *fiber.Ctx) error {
	ct, data, err := formFile(c)
	if err != nil {
		return err
	}
	u, err := h.dir.UploadPhoto(c.UserContext(), middleware.UserID(c), ct, data)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

// GET /presence
func (h *UserHandler) Presence(c *fiber.Ctx) error {
	v, err := h.presence.Load(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, v)
}

// PUT /presence/status
func (h *UserHandler) SetStatus(c *fiber.Ctx) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid body")
	}
	if err := h.tracker.SetStatus(c.UserContext(), middleware.UserID(c), req.Status); err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"status": req.Status})
}
