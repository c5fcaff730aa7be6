package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/whisper-service/internal/service"
)

// Error codes returned in the "code" field of error bodies
const (
	CodeNoFile              = "ERR_NO_FILE"
	CodeNoAudio             = "ERR_NO_AUDIO"
	CodeInvalidTask         = "ERR_INVALID_TASK"
	CodeFileTooLarge        = "ERR_FILE_TOO_LARGE"
	CodeSaveFailed          = "ERR_SAVE_FAILED"
	CodeModelNotReady       = "ERR_MODEL_NOT_READY"
	CodeBusy                = "ERR_BUSY"
	CodeDeadlineExceeded    = "ERR_DEADLINE_EXCEEDED"
	CodeTranscriptionFailed = "ERR_TRANSCRIPTION_FAILED"
	CodeInternal            = "ERR_INTERNAL"
)

// errorResponse maps a service error onto a status code and body
func errorResponse(err error) (int, fiber.Map) {
	var serr *service.Error
	if !errors.As(err, &serr) {
		return fiber.StatusInternalServerError, fiber.Map{
			"error": "Internal error",
			"code":  CodeInternal,
		}
	}

	switch serr.Kind {
	case service.KindModelNotReady:
		return fiber.StatusServiceUnavailable, fiber.Map{
			"error": "Model not loaded",
			"code":  CodeModelNotReady,
		}
	case service.KindBusy:
		return fiber.StatusServiceUnavailable, fiber.Map{
			"error": "Service busy, another transcription is in progress. Retry later",
			"code":  CodeBusy,
		}
	case service.KindDeadlineExceeded:
		return fiber.StatusGatewayTimeout, fiber.Map{
			"error": "Transcription exceeded the maximum allowed time",
			"code":  CodeDeadlineExceeded,
		}
	default:
		return fiber.StatusInternalServerError, fiber.Map{
			"error": "Transcription failed: " + serr.Reason,
			"code":  CodeTranscriptionFailed,
		}
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	var serr *service.Error
	if errors.As(err, &serr) && serr.Retryable() {
		c.Set(fiber.HeaderRetryAfter, "5")
	}
	return c.Status(status).JSON(body)
}

// ErrorHandler renders errors that escape handlers (fiber errors, recovered
// panics) in the same body shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal error"
	errCode := CodeInternal

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
		msg = ferr.Message
		if code == fiber.StatusRequestEntityTooLarge {
			errCode = CodeFileTooLarge
		} else if code < fiber.StatusInternalServerError {
			errCode = "ERR_REQUEST"
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"error": msg,
		"code":  errCode,
	})
}
