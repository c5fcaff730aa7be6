package service

import "fmt"

// Kind classifies every failure the service reports to callers
type Kind int

const (
	KindModelNotReady Kind = iota + 1
	KindBusy
	KindDeadlineExceeded
	KindEngineFailure
)

func (k Kind) String() string {
	switch k {
	case KindModelNotReady:
		return "model_not_ready"
	case KindBusy:
		return "busy"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindEngineFailure:
		return "engine_failure"
	}
	return "unknown"
}

// Error is the only error type returned by TranscribeService
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later
func (e *Error) Retryable() bool {
	return e.Kind != KindEngineFailure
}
