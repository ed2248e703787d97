package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
)

// AdminHandler serves the moderation listings. Destructive calls need
// ?confirm=true.
type AdminHandler struct {
	svc *service.AdminService
}

func NewAdminHandler(svc *service.AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// GET /admin/users?cursor=&q=
func (h *AdminHandler) Users(c *fiber.Ctx) error {
	page, err := h.svc.Users(c.UserContext(), c.Query("cursor"), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

// GET /admin/messages?collection=public|private&cursor=&q=
func (h *AdminHandler) Messages(c *fiber.Ctx) error {
	page, err := h.svc.Messages(c.UserContext(), c.Query("collection"), c.Query("cursor"), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

// DELETE /admin/users/:id?confirm=true
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	if err := h.svc.DeleteUser(c.UserContext(), c.Params("id"), c.QueryBool("confirm")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DELETE /admin/messages/:id?collection=&confirm=true
func (h *AdminHandler) DeleteMessage(c *fiber.Ctx) error {
	err := h.svc.DeleteMessage(c.UserContext(), c.Query("collection"), c.Params("id"), c.QueryBool("confirm"))
	if err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
