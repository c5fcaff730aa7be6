package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/admission"
	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

var (
	ErrDeadlineExceeded = errors.New("transcription exceeded the maximum allowed time")
	ErrSlotClosed       = errors.New("execution slot is stopped")
)

// TranscriptionError wraps a failure raised by the job itself
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return "transcription failed: " + e.Reason
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Slot runs transcription jobs on exactly one background worker so the
// request path never does the CPU-bound work itself.
type Slot struct {
	jobQueue chan *Job
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders enqueueing against Stop so no job lands after the final drain
	mu     sync.Mutex
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSlot creates a stopped slot; call Start before Run
func NewSlot(logger *zap.Logger) *Slot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Slot{
		jobQueue: make(chan *Job, 1),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker
func (s *Slot) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("Starting execution slot worker")
		s.wg.Add(1)
		go s.worker()
	})
}

// Stop cancels the worker context and waits for the running job, if any,
// to return. Jobs still queued afterwards fail with ErrSlotClosed.
func (s *Slot) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.drain()
		s.logger.Info("Execution slot worker stopped")
	})
}

// Run executes fn on the worker on behalf of ticket and waits at most
// timeout for its result.
//
// The deadline is detached from the work: when it passes, Run returns
// ErrDeadlineExceeded but fn keeps running on the worker, which holds the
// ticket until fn actually returns. The gate therefore stays busy until the
// stale job vacates the worker. Cancelling ctx abandons the wait the same
// way.
func (s *Slot) Run(ctx context.Context, ticket *admission.Ticket, fn JobFunc, timeout time.Duration) (*types.TranscriptionResult, error) {
	job := NewJob(ticket.ID(), fn, ticket.Hold())

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := s.enqueue(ctx, job, timer.C); err != nil {
		job.release()
		return nil, err
	}

	select {
	case out := <-job.done:
		return out.result, out.err
	case <-timer.C:
		s.logger.Warn("Transcription deadline exceeded, job left running",
			zap.String("job_id", job.ID), zap.Duration("timeout", timeout))
		return nil, ErrDeadlineExceeded
	case <-ctx.Done():
		s.logger.Warn("Caller stopped waiting for job", zap.String("job_id", job.ID), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

func (s *Slot) enqueue(ctx context.Context, job *Job, deadline <-chan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSlotClosed
	}

	select {
	case s.jobQueue <- job:
		return nil
	case <-s.ctx.Done():
		return ErrSlotClosed
	case <-deadline:
		return ErrDeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker processes jobs from the queue
func (s *Slot) worker() {
	defer s.wg.Done()
	s.logger.Info("Worker started")

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case job := <-s.jobQueue:
			s.execute(job)
		}
	}
}

// drain fails jobs that were queued but never started
func (s *Slot) drain() {
	for {
		select {
		case job := <-s.jobQueue:
			job.done <- outcome{err: ErrSlotClosed}
			job.release()
		default:
			return
		}
	}
}

func (s *Slot) execute(job *Job) {
	start := time.Now()
	log := s.logger.With(zap.String("job_id", job.ID), zap.Uint64("ticket", job.TicketID))
	log.Info("Processing job", zap.Duration("queued", start.Sub(job.CreatedAt)))

	var out outcome
	defer func() {
		job.done <- out
		job.release()
	}()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			log.Error("PANIC processing job", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = outcome{err: &TranscriptionError{Reason: fmt.Sprintf("worker panic: %v", r)}}
		}
	}()

	result, err := job.Run(s.ctx)
	if err != nil {
		log.Error("Transcription failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		out = outcome{err: &TranscriptionError{Reason: err.Error(), Err: err}}
		return
	}

	log.Info("Job completed", zap.Duration("elapsed", time.Since(start)))
	out = outcome{result: result}
}
