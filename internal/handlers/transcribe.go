package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/admission"
	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

// Transcriber is the admission-controlled transcription flow
type Transcriber interface {
	Admit() (*admission.Ticket, error)
	Run(ctx context.Context, ticket *admission.Ticket, req types.TranscriptionRequest) (*types.TranscriptionResult, error)
}

// TranscribeHandler handles multipart audio uploads
type TranscribeHandler struct {
	svc     Transcriber
	tempDir string
	logger  *zap.Logger
}

// NewTranscribeHandler creates a new upload handler
func NewTranscribeHandler(svc Transcriber, tempDir string, logger *zap.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		svc:     svc,
		tempDir: tempDir,
		logger:  logger,
	}
}

// Handle processes the upload request
func (h *TranscribeHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  CodeNoFile,
		})
	}

	task, err := types.ParseTask(formOrQuery(c, "task"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  CodeInvalidTask,
		})
	}
	// the request may outlive this handler if it times out
	language := utils.CopyString(formOrQuery(c, "language"))

	// Claim the slot before touching the disk
	ticket, err := h.svc.Admit()
	if err != nil {
		return respondError(c, err)
	}
	defer ticket.Release()

	tempPath := filepath.Join(h.tempDir, uuid.New().String()+filepath.Ext(file.Filename))
	if err := c.SaveFile(file, tempPath); err != nil {
		h.logger.Error("Failed to save uploaded file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  CodeSaveFailed,
		})
	}
	defer cleanupTempFile(h.logger, tempPath)

	h.logger.Info("Audio staged",
		zap.Uint64("ticket", ticket.ID()),
		zap.String("file", file.Filename),
		zap.Int64("size", file.Size))

	result, err := h.svc.Run(c.UserContext(), ticket, types.TranscriptionRequest{
		AudioPath: tempPath,
		Language:  language,
		Task:      task,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}

// formOrQuery reads a multipart field, falling back to the query string
func formOrQuery(c *fiber.Ctx, key string) string {
	if v := c.FormValue(key); v != "" {
		return v
	}
	return c.Query(key)
}

// cleanupTempFile removes a staged upload
func cleanupTempFile(logger *zap.Logger, filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to cleanup temp file", zap.String("path", filePath), zap.Error(err))
	}
}
