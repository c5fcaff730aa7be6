// Package service ties the admission gate, the execution slot and the
// engine into the request flow used by the HTTP handlers.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/admission"
	"github.com/codebuildervaibhav/whisper-service/internal/queue"
	"github.com/codebuildervaibhav/whisper-service/internal/transcription"
	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

// TranscribeService admits at most one transcription at a time and runs it
// on the execution slot with a bounded wait.
type TranscribeService struct {
	gate    *admission.Gate
	slot    *queue.Slot
	engine  transcription.Engine
	timeout time.Duration
	logger  *zap.Logger
}

// NewTranscribeService wires the pieces together. The slot must be started
// by the caller.
func NewTranscribeService(gate *admission.Gate, slot *queue.Slot, engine transcription.Engine, timeout time.Duration, logger *zap.Logger) *TranscribeService {
	return &TranscribeService{
		gate:    gate,
		slot:    slot,
		engine:  engine,
		timeout: timeout,
		logger:  logger,
	}
}

// LoadModel loads the engine and opens the gate on success
func (s *TranscribeService) LoadModel(ctx context.Context) error {
	start := time.Now()
	if err := s.engine.Load(ctx); err != nil {
		s.logger.Error("Failed to load model", zap.Error(err))
		return err
	}
	s.gate.MarkReady()
	s.logger.Info("Model ready, accepting transcriptions", zap.Duration("load_time", time.Since(start)))
	return nil
}

// Admit claims the slot or fails immediately with KindModelNotReady or
// KindBusy. The caller must Release the ticket.
func (s *TranscribeService) Admit() (*admission.Ticket, error) {
	ticket, err := s.gate.TryAdmit()
	switch {
	case errors.Is(err, admission.ErrModelNotReady):
		return nil, &Error{Kind: KindModelNotReady, Reason: "Model not loaded", Err: err}
	case errors.Is(err, admission.ErrBusy):
		s.logger.Debug("Rejected transcription, slot busy")
		return nil, &Error{Kind: KindBusy, Reason: "Another transcription is in progress, retry later", Err: err}
	case err != nil:
		return nil, &Error{Kind: KindEngineFailure, Reason: err.Error(), Err: err}
	}
	return ticket, nil
}

// Run transcribes req under an admitted ticket and releases it on every
// path. A timed-out job keeps the slot busy until it really finishes.
func (s *TranscribeService) Run(ctx context.Context, ticket *admission.Ticket, req types.TranscriptionRequest) (*types.TranscriptionResult, error) {
	defer ticket.Release()

	log := s.logger.With(zap.Uint64("ticket", ticket.ID()))
	log.Info("Transcription admitted", zap.String("task", string(req.Task)), zap.String("language", req.Language))

	result, err := s.slot.Run(ctx, ticket, func(ctx context.Context) (*types.TranscriptionResult, error) {
		return s.engine.Transcribe(ctx, req)
	}, s.timeout)

	var terr *queue.TranscriptionError
	switch {
	case err == nil && result == nil:
		return nil, &Error{Kind: KindEngineFailure, Reason: "engine returned no result"}
	case err == nil:
		return result, nil
	case errors.Is(err, queue.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		log.Warn("Transcription timed out", zap.Duration("timeout", s.timeout))
		return nil, &Error{Kind: KindDeadlineExceeded, Reason: "Transcription exceeded the maximum allowed time", Err: err}
	case errors.As(err, &terr):
		return nil, &Error{Kind: KindEngineFailure, Reason: terr.Reason, Err: err}
	default:
		log.Error("Transcription aborted", zap.Error(err))
		return nil, &Error{Kind: KindEngineFailure, Reason: err.Error(), Err: err}
	}
}
