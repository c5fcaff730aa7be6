package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

// StreamOptions is the optional JSON text frame sent before END
type StreamOptions struct {
	Language string `json:"language"`
	Task     string `json:"task"`
	Filename string `json:"filename"`
}

// StreamHandler accepts a whole audio file over a WebSocket in binary
// frames and replies with one result once the client sends END. Nothing is
// returned before the full transcription completes.
type StreamHandler struct {
	svc      Transcriber
	tempDir  string
	maxBytes int
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(svc Transcriber, tempDir string, maxBytes int, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		svc:      svc,
		tempDir:  tempDir,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer bytes.Buffer
		opts   StreamOptions
		connID = uuid.New().String()
		log    = h.logger.With(zap.String("conn", connID))
	)

	log.Debug("WebSocket connection established")

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Debug("WebSocket closed before END", zap.Error(err))
			return
		}

		if messageType == websocket.TextMessage {
			if string(message) == "END" {
				break
			}
			if err := json.Unmarshal(message, &opts); err != nil {
				h.writeError(c, fiber.StatusBadRequest, "Invalid options frame", "ERR_INVALID_OPTIONS")
				return
			}
			continue
		}

		if messageType == websocket.BinaryMessage {
			if buffer.Len()+len(message) > h.maxBytes {
				h.writeError(c, fiber.StatusRequestEntityTooLarge,
					fmt.Sprintf("File too large (max %dMB)", h.maxBytes/(1024*1024)), CodeFileTooLarge)
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		h.writeError(c, fiber.StatusBadRequest, "No audio data received", CodeNoAudio)
		return
	}

	task, err := types.ParseTask(opts.Task)
	if err != nil {
		h.writeError(c, fiber.StatusBadRequest, err.Error(), CodeInvalidTask)
		return
	}

	ticket, err := h.svc.Admit()
	if err != nil {
		status, body := errorResponse(err)
		h.writeBody(c, status, body)
		return
	}
	defer ticket.Release()

	ext := filepath.Ext(opts.Filename)
	if ext == "" {
		ext = ".webm"
	}
	tempPath := filepath.Join(h.tempDir, connID+ext)
	if err := os.WriteFile(tempPath, buffer.Bytes(), 0o644); err != nil {
		log.Error("Failed to save stream buffer", zap.Error(err))
		h.writeError(c, fiber.StatusInternalServerError, "Failed to save file", CodeSaveFailed)
		return
	}
	defer cleanupTempFile(h.logger, tempPath)

	log.Info("Stream staged", zap.String("path", tempPath), zap.Int("bytes", buffer.Len()))

	result, err := h.svc.Run(context.Background(), ticket, types.TranscriptionRequest{
		AudioPath: tempPath,
		Language:  opts.Language,
		Task:      task,
	})
	if err != nil {
		status, body := errorResponse(err)
		h.writeBody(c, status, body)
		return
	}

	if err := c.WriteJSON(result); err != nil {
		log.Warn("Failed to send result", zap.Error(err))
	}
}

func (h *StreamHandler) writeError(c *websocket.Conn, status int, msg, code string) {
	h.writeBody(c, status, fiber.Map{"error": msg, "code": code})
}

func (h *StreamHandler) writeBody(c *websocket.Conn, status int, body fiber.Map) {
	body["status"] = status
	if err := c.WriteJSON(body); err != nil {
		h.logger.Debug("Failed to send error frame", zap.Error(err))
	}
}
