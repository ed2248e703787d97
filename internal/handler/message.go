package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
)

type MessageHandler struct {
	svc      *service.MessageService
	validate *validator.Validate
}

func NewMessageHandler(svc *service.MessageService) *MessageHandler {
	return &MessageHandler{svc: svc, validate: validator.New()}
}

type sendReq struct {
	Peer string `json:"peer"`
	service.SendRequest
}

type editReq struct {
	Peer string `json:"peer"`
	Text string `json:"text" validate:"required"`
}

type reactReq struct {
	Peer  string `json:"peer"`
	Emoji string `json:"emoji" validate:"required"`
}

// target reads the conversation from the :peer param, the body or ?peer=.
func target(c *fiber.Ctx, body string) conversation.Target {
	if p := c.Params("peer"); p != "" {
		return conversation.Parse(p)
	}
	if body != "" {
		return conversation.Parse(body)
	}
	return conversation.Parse(c.Query("peer"))
}

// GET /conversations/:peer/messages?q=
func (h *MessageHandler) History(c *fiber.Ctx) error {
	msgs, err := h.svc.Search(c.UserContext(), middleware.UserID(c), target(c, ""), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msgs)
}

// GET /conversations/:peer/pinned
func (h *MessageHandler) Pinned(c *fiber.Ctx) error {
	msgs, err := h.svc.Pinned(c.UserContext(), middleware.UserID(c), target(c, ""))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msgs)
}

// Export downloads the conversation as a JSON attachment.
// GET /conversations/:peer/export
func (h *MessageHandler) Export(c *fiber.Ctx) error {
	out, err := h.svc.Export(c.UserContext(), middleware.UserID(c), target(c, ""))
	if err != nil {
		return fail(c, err)
	}
	c.Attachment(out.Filename())
	return c.Status(fiber.StatusOK).JSON(out)
}

// POST /conversations/:peer/read
func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	n, err := h.svc.MarkRead(c.UserContext(), middleware.UserID(c), target(c, ""))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"marked": n})
}

// Send answers 204 when the message was empty and nothing was stored.
// POST /messages
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	var req sendReq
	if ok, err := bind(c, h.validate, &req); !ok {
		return err
	}
	msg, err := h.svc.Send(c.UserContext(), middleware.UserID(c), target(c, req.Peer), req.SendRequest)
	if err != nil {
		return fail(c, err)
	}
	if msg == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return JSONSuccess(c, fiber.StatusCreated, msg)
}

// PATCH /messages/:id
func (h *MessageHandler) Edit(c *fiber.Ctx) error {
	var req editReq
	if ok, err := bind(c, h.validate, &req); !ok {
		return err
	}
	msg, err := h.svc.Edit(c.UserContext(), middleware.UserID(c), target(c, req.Peer), c.Params("id"), req.Text)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msg)
}

// DELETE /messages/:id?peer=
func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.Delete(c.UserContext(), middleware.UserID(c), target(c, ""), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /messages/:id/reactions
func (h *MessageHandler) React(c *fiber.Ctx) error {
	var req reactReq
	if ok, err := bind(c, h.validate, &req); !ok {
		return err
	}
	msg, err := h.svc.React(c.UserContext(), middleware.UserID(c), target(c, req.Peer), c.Params("id"), req.Emoji)
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msg)
}

// POST /messages/:id/pin
func (h *MessageHandler) TogglePin(c *fiber.Ctx) error {
	var req struct {
		Peer string `json:"peer"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return JSONError(c, fiber.StatusBadRequest, "invalid body")
		}
	}
	msg, err := h.svc.TogglePin(c.UserContext(), middleware.UserID(c), target(c, req.Peer), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, msg)
}
