package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"sharelink/internal/http/middleware"
	"sharelink/internal/service"
)

const (
	msgLinkExpired = "Link has been expired."
	msgInternal    = "Something went wrong."
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps a service error onto the error envelope.
// Dependency failures are logged and answered with a generic message; delivery failures expose the transport message.
func writeServiceError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var de *service.DeliveryError
	switch {
	case errors.Is(err, service.ErrFileRequired):
		return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
	case errors.Is(err, service.ErrFileTooLarge):
		return writeError(c, fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file is too large")
	case errors.Is(err, service.ErrFieldsRequired):
		return writeError(c, fiber.StatusUnprocessableEntity, "FIELDS_REQUIRED", "All fields are required.")
	case errors.Is(err, service.ErrInvalidEmail):
		return writeError(c, fiber.StatusUnprocessableEntity, "INVALID_EMAIL", "Invalid email address.")
	case errors.Is(err, service.ErrAlreadySent):
		return writeError(c, fiber.StatusUnprocessableEntity, "ALREADY_SENT", "Email already sent.")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "File not found.")
	case errors.Is(err, service.ErrLinkExpired):
		return writeError(c, fiber.StatusNotFound, "LINK_EXPIRED", msgLinkExpired)
	case errors.As(err, &de):
		return writeError(c, fiber.StatusInternalServerError, "DELIVERY_FAILED", de.Err.Error())
	default:
		log.Error("request failed",
			zap.String("request_id", requestIDFromCtx(c)),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", msgInternal)
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "FILE_TOO_LARGE", "file is too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
