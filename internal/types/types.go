package types

import "fmt"

// Task selects what the model does with the audio
type Task string

// Task constants
const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// ParseTask validates a task name, empty means transcribe
func ParseTask(s string) (Task, error) {
	// return the constants, s may alias a request buffer
	switch Task(s) {
	case "", TaskTranscribe:
		return TaskTranscribe, nil
	case TaskTranslate:
		return TaskTranslate, nil
	}
	return "", fmt.Errorf("unsupported task %q (expected %q or %q)", s, TaskTranscribe, TaskTranslate)
}

// TranscriptionRequest describes one staged audio file to transcribe
type TranscriptionRequest struct {
	AudioPath string
	Language  string // empty lets the model detect it
	Task      Task
}

// TranscriptionResult represents the output from Whisper
type TranscriptionResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
