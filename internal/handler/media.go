package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/storage"
)

type MediaHandler struct {
	images *storage.Images
	log    *zap.Logger
}

func NewMediaHandler(images *storage.Images, log *zap.Logger) *MediaHandler {
	return &MediaHandler{images: images, log: log}
}

// formFile reads the multipart 'file' field.
func formFile(c *fiber.Ctx) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "file missing")
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusInternalServerError, "cannot open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "cannot read file")
	}
	ct := fh.Header.Get(fiber.HeaderContentType)
	if ct == "" || ct == fiber.MIMEOctetStream {
		ct = http.DetectContentType(data)
	}
	return ct, data, nil
}

// Upload stores an image for use in a later message.
// POST /media (multipart/form-data 'file')
func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	ct, data, err := formFile(c)
	if err != nil {
		return err
	}
	img, err := h.images.Save(c.UserContext(), middleware.UserID(c), ct, data)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidFile) {
			return JSONError(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Error("media upload failed", zap.Error(err))
		return JSONError(c, fiber.StatusBadGateway, "upload failed")
	}
	return JSONSuccess(c, fiber.StatusCreated, img)
}

// Get redirects to the blob store, or serves the bytes itself when the
// store has no URL of its own.
// GET /media/*
func (h *MediaHandler) Get(c *fiber.Ctx) error {
	key := c.Params("*")
	if key == "" {
		return JSONError(c, fiber.StatusNotFound, "not found")
	}
	store := h.images.Store()
	url, err := store.URL(c.UserContext(), key)
	if err != nil {
		return h.blobError(c, err)
	}
	if url != "" {
		return c.Redirect(url, fiber.StatusFound)
	}
	op, ok := store.(storage.Opener)
	if !ok {
		return JSONError(c, fiber.StatusNotFound, "not found")
	}
	data, ct, err := op.Open(c.UserContext(), key)
	if err != nil {
		return h.blobError(c, err)
	}
	c.Set(fiber.HeaderContentType, ct)
	c.Set(fiber.HeaderCacheControl, "private, max-age=86400")
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *MediaHandler) blobError(c *fiber.Ctx, err error) error {
	if errors.Is(err, storage.ErrFileNotFound) {
		return JSONError(c, fiber.StatusNotFound, "not found")
	}
	h.log.Error("media lookup failed", zap.Error(err))
	return JSONError(c, fiber.StatusBadGateway, "storage unavailable")
}
