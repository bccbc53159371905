package batch

import (
	"errors"
	"os"
	"path/filepath"

	"backend-formcoach/internal/auth"
	"backend-formcoach/internal/profile"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type HandlerConfig struct {
	UploadDir    string
	ProcessedDir string
}

type handlers struct {
	runner *Runner
	cfg    HandlerConfig
}

func RegisterRoutes(r fiber.Router, runner *Runner, cfg HandlerConfig, authMiddleware fiber.Handler) {
	h := &handlers{runner: runner, cfg: cfg}

	r.Post("/jobs", authMiddleware, h.submit)
	r.Post("/upload-video", authMiddleware, h.submit)
	r.Get("/jobs/:id", h.status)
	r.Get("/video-status/:id", h.status)
	r.Delete("/jobs/:id", authMiddleware, h.cancel)

	r.Get("/api/videos/:name", h.artifact)
	r.Get("/api/thumbnails/:name", h.artifact)
}

// submit accepts either a multipart upload with a "video" file and "mode" field, or a
// JSON body naming an input under the upload directory.
func (h *handlers) submit(c *fiber.Ctx) error {
	req, err := h.request(c)
	if err != nil {
		return err
	}
	req.AthleteID = auth.AthleteID(c)

	job, err := h.runner.Submit(c.Context(), req)
	if err != nil {
		return jobError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":  "queued for processing",
		"job_id":   job.ID,
		"video_id": job.ID,
		"status":   job.Status,
	})
}

func (h *handlers) request(c *fiber.Ctx) (Request, error) {
	if fh, err := c.FormFile("video"); err == nil {
		if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
			return Request{}, fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		path := filepath.Join(h.cfg.UploadDir, uuid.NewString()+"_"+filepath.Base(fh.Filename))
		if err := c.SaveFile(fh, path); err != nil {
			return Request{}, fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return Request{Input: InputVideo, Path: path, Mode: c.FormValue("mode")}, nil
	}

	var body struct {
		Path  string `json:"path"`
		Input string `json:"input"`
		Mode  string `json:"mode"`
	}
	if err := c.BodyParser(&body); err != nil || body.Path == "" {
		return Request{}, fiber.NewError(fiber.StatusBadRequest, "video file or input path required")
	}
	if !filepath.IsLocal(body.Path) {
		return Request{}, fiber.NewError(fiber.StatusBadRequest, "input path must be inside the upload directory")
	}
	path := filepath.Join(h.cfg.UploadDir, body.Path)
	info, err := os.Stat(path)
	if err != nil {
		return Request{}, fiber.NewError(fiber.StatusBadRequest, "input not found")
	}

	input := InputKind(body.Input)
	switch input {
	case "":
		input = DetectInput(path, info.IsDir())
	case InputVideo, InputImages, InputLandmarks:
	default:
		return Request{}, fiber.NewError(fiber.StatusBadRequest, "unknown input kind")
	}
	return Request{Input: input, Path: path, Mode: body.Mode}, nil
}

func (h *handlers) status(c *fiber.Ctx) error {
	job, err := h.runner.Get(c.Context(), c.Params("id"))
	if err != nil {
		return jobError(err)
	}
	return c.JSON(job)
}

func (h *handlers) cancel(c *fiber.Ctx) error {
	if err := h.runner.Cancel(c.Context(), c.Params("id")); err != nil {
		return jobError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) artifact(c *fiber.Ctx) error {
	path := filepath.Join(h.cfg.ProcessedDir, filepath.Base(c.Params("name")))
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fiber.NewError(fiber.StatusNotFound, "artifact not found")
	}
	return c.SendFile(path)
}

func jobError(err error) error {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, profile.ErrUnknownMode):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrQueueFull):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrJobFinished):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrNoExtractor):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
