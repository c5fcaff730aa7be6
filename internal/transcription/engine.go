package transcription

import (
	"context"

	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

// Engine is the speech-to-text model. Transcribe is blocking and CPU bound
// and is never called concurrently by the service.
type Engine interface {
	// Load prepares the model; Transcribe must not be called before it returns nil
	Load(ctx context.Context) error
	Transcribe(ctx context.Context, req types.TranscriptionRequest) (*types.TranscriptionResult, error)
	Close() error
}
