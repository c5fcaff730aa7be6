package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

// JobFunc is the blocking work a job performs on the worker
type JobFunc func(ctx context.Context) (*types.TranscriptionResult, error)

// Job represents a transcription job handed to the slot worker
type Job struct {
	ID        string
	TicketID  uint64
	Run       JobFunc
	CreatedAt time.Time

	release func()
	done    chan outcome
}

type outcome struct {
	result *types.TranscriptionResult
	err    error
}

// NewJob creates a new job with default values
func NewJob(ticketID uint64, run JobFunc, release func()) *Job {
	return &Job{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		Run:       run,
		CreatedAt: time.Now(),
		release:   release,
		// buffered so the worker never blocks on a caller that stopped waiting
		done: make(chan outcome, 1),
	}
}
