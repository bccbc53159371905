package session

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"backend-formcoach/internal/auth"
	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/profile"

	"github.com/gofiber/fiber/v2"
)

type frameRequest struct {
	Image       string           `json:"image"`
	Landmarks   pose.LandmarkSet `json:"landmarks"`
	TimestampMS int64            `json:"timestamp_ms"`
}

// RegisterRoutes exposes sessions frame-at-a-time over HTTP for clients that cannot hold
// a websocket open.
func RegisterRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Mode string `json:"mode"`
		}
		_ = c.BodyParser(&body)
		id, err := m.Create(c.Context(), Options{
			Mode:      body.Mode,
			AthleteID: auth.AthleteID(c),
			Source:    SourceHTTP,
		})
		if err != nil {
			return httpError(err)
		}
		sum, err := m.Summary(id)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(sum)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"sessions": m.List()})
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		sum, err := m.Summary(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(sum)
	})

	r.Post("/:id/mode", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := c.BodyParser(&body); err != nil || body.Mode == "" {
			return fiber.NewError(fiber.StatusBadRequest, "mode required")
		}
		if err := m.SwitchMode(c.Params("id"), body.Mode); err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"mode_changed": body.Mode})
	})

	r.Post("/:id/frames", authMiddleware, func(c *fiber.Ctx) error {
		frame, err := parseFrame(c)
		if err != nil {
			return err
		}
		res, err := m.ProcessFrame(c.Context(), c.Params("id"), frame)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		sum, err := m.Destroy(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(sum)
	})
}

// parseFrame accepts a raw image body (Content-Type image/*) or a JSON frame carrying a
// base64 image or landmarks.
func parseFrame(c *fiber.Ctx) (Frame, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), "image/") {
		return Frame{Image: append([]byte(nil), c.Body()...)}, nil
	}

	var req frameRequest
	if err := c.BodyParser(&req); err != nil {
		return Frame{}, fiber.NewError(fiber.StatusBadRequest, "invalid frame body")
	}
	f := Frame{Landmarks: req.Landmarks}
	if req.TimestampMS > 0 {
		f.Timestamp = time.UnixMilli(req.TimestampMS)
	}
	if req.Image != "" {
		data := req.Image
		if i := strings.Index(data, ";base64,"); i >= 0 {
			data = data[i+len(";base64,"):]
		}
		img, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Frame{}, fiber.NewError(fiber.StatusUnprocessableEntity, "image is not valid base64")
		}
		f.Image = img
	}
	return f, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, profile.ErrUnknownMode):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidFrame):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
