package handler

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"sharelink/internal/service"
)

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	File string `json:"file"`
}

// SendRequest is the body of POST /api/files/send.
type SendRequest struct {
	UUID      string `json:"uuid"`
	EmailTo   string `json:"emailTo"`
	EmailFrom string `json:"emailFrom"`
}

// SendResponse is returned once the notification was accepted by the relay.
type SendResponse struct {
	Success bool `json:"success"`
}

// RegisterRoutes attaches the share routes and health probes to app.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.ShareService, log *zap.Logger) {
	log = log.With(zap.String("component", "handler"))

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	api := app.Group("/api/files")
	api.Post("", UploadFile(svc, log))
	api.Post("/send", SendFile(svc, log))

	files := app.Group("/files")
	files.Get("/download/:uuid", DownloadFile(svc, log))
	files.Get("/:uuid", ShowFile(svc, log))
}

// HealthCheck godoc
// @Summary Readiness probe
// @Description Checks database connectivity.
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags ops
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadFile godoc
// @Summary Upload a file
// @Description Stores the file and returns its share link.
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param myfile formData file true "File to share"
// @Success 200 {object} UploadResponse
// @Failure 400 {object} errorPayload
// @Failure 413 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /api/files [post]
func UploadFile(svc service.ShareService, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("myfile")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct, err := contentType(f, fh.Header.Get("Content-Type"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot read uploaded file")
		}

		res, err := svc.Upload(c.UserContext(), f, fh.Filename, ct, fh.Size)
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.Status(fiber.StatusOK).JSON(UploadResponse{File: res.URL})
	}
}

// contentType sniffs the upload and rewinds it. The declared type wins only when sniffing finds nothing specific.
func contentType(f multipart.File, declared string) (string, error) {
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if mt.Is("application/octet-stream") && declared != "" {
		return declared, nil
	}
	return mt.String(), nil
}

// SendFile godoc
// @Summary Email a share link
// @Description Sends the link once; later attempts are rejected.
// @Tags files
// @Accept json
// @Produce json
// @Param body body SendRequest true "Share and addresses"
// @Success 200 {object} SendResponse
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 422 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /api/files/send [post]
func SendFile(svc service.ShareService, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SendRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		}

		if _, err := svc.Send(c.UserContext(), req.UUID, req.EmailFrom, req.EmailTo); err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(SendResponse{Success: true})
	}
}

// ShowFile godoc
// @Summary Share metadata
// @Tags files
// @Produce json
// @Param uuid path string true "Share token"
// @Success 200 {object} service.ShareView
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /files/{uuid} [get]
func ShowFile(svc service.ShareService, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := svc.Get(c.UserContext(), c.Params("uuid"))
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(view)
	}
}

// DownloadFile godoc
// @Summary Download a shared file
// @Description Redirects to the stored blob while the share is live.
// @Tags files
// @Param uuid path string true "Share token"
// @Success 302
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /files/download/{uuid} [get]
func DownloadFile(svc service.ShareService, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url, err := svc.Resolve(c.UserContext(), c.Params("uuid"))
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.Redirect(url, fiber.StatusFound)
	}
}
