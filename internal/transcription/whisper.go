package transcription

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

//go:embed assets/whisper_worker.py
var workerScript []byte

// ErrEngineStopped is returned once the worker process is gone
var ErrEngineStopped = errors.New("whisper worker is not running")

// WhisperConfig selects the model and how the worker process runs it
type WhisperConfig struct {
	Model       string
	Device      string
	ComputeType string
	CPUThreads  int
	NumWorkers  int
	Python      string
	Normalize   bool
	TempDir     string
}

// WhisperEngine keeps one faster-whisper worker process alive for the life
// of the service. The model is loaded once in Load; each Transcribe call is
// one request/reply line pair on the worker's stdin/stdout.
type WhisperEngine struct {
	cfg    WhisperConfig
	logger *zap.Logger

	// newCmd builds the worker command; replaced in tests
	newCmd func(script string, args []string) *exec.Cmd

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	stderr     *zapio.Writer
	scriptPath string
	dead       error
}

// NewWhisperEngine creates an engine; nothing is started until Load
func NewWhisperEngine(cfg WhisperConfig, logger *zap.Logger) *WhisperEngine {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = "int8"
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	python := cfg.Python
	return &WhisperEngine{
		cfg:    cfg,
		logger: logger,
		newCmd: func(script string, args []string) *exec.Cmd {
			return exec.Command(python, append([]string{script}, args...)...)
		},
	}
}

type workerReady struct {
	Ready bool   `json:"ready"`
	Model string `json:"model"`
	Error string `json:"error"`
}

type workerRequest struct {
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task"`
}

// workerReply matches the JSON line the worker writes per request
type workerReply struct {
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Segments []types.Segment `json:"segments"`
	Error    string          `json:"error"`
}

// Load starts the worker process and waits until the model is in memory.
func (we *WhisperEngine) Load(ctx context.Context) error {
	we.mu.Lock()
	defer we.mu.Unlock()

	if we.cmd != nil {
		return errors.New("whisper worker already started")
	}

	we.logger.Info("Loading Whisper model",
		zap.String("model", we.cfg.Model),
		zap.String("device", we.cfg.Device),
		zap.String("compute_type", we.cfg.ComputeType),
		zap.Int("cpu_threads", we.cfg.CPUThreads),
		zap.Int("num_workers", we.cfg.NumWorkers))

	script, err := os.CreateTemp("", "whisper_worker_*.py")
	if err != nil {
		return fmt.Errorf("create worker script: %w", err)
	}
	if _, err := script.Write(workerScript); err != nil {
		script.Close()
		os.Remove(script.Name())
		return fmt.Errorf("write worker script: %w", err)
	}
	script.Close()
	we.scriptPath = script.Name()

	cmd := we.newCmd(we.scriptPath, []string{
		"--model", we.cfg.Model,
		"--device", we.cfg.Device,
		"--compute-type", we.cfg.ComputeType,
		"--cpu-threads", strconv.Itoa(we.cfg.CPUThreads),
		"--num-workers", strconv.Itoa(we.cfg.NumWorkers),
	})
	we.stderr = &zapio.Writer{Log: we.logger.Named("whisper-worker"), Level: zapcore.DebugLevel}
	cmd.Stderr = we.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start whisper worker: %w", err)
	}
	we.cmd = cmd
	we.stdin = stdin
	// replies carry every segment on a single line
	we.stdout = bufio.NewReaderSize(stdout, 1<<20)

	line, err := we.readLine(ctx)
	if err != nil {
		return fmt.Errorf("waiting for model load: %w", err)
	}
	var ready workerReady
	if err := json.Unmarshal(line, &ready); err != nil {
		we.fail(fmt.Errorf("bad ready line: %w", err))
		return fmt.Errorf("parse worker ready line: %w", err)
	}
	if !ready.Ready {
		we.fail(errors.New(ready.Error))
		return fmt.Errorf("model load failed: %s", ready.Error)
	}

	we.logger.Info("Model loaded successfully", zap.String("model", ready.Model))
	return nil
}

// Transcribe processes an audio file and returns the transcript
func (we *WhisperEngine) Transcribe(ctx context.Context, req types.TranscriptionRequest) (*types.TranscriptionResult, error) {
	we.mu.Lock()
	defer we.mu.Unlock()

	if we.cmd == nil || we.dead != nil {
		return nil, we.stoppedErr()
	}

	audioPath, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if we.cfg.Normalize {
		normalized, err := NormalizeAudio(ctx, audioPath, we.cfg.TempDir)
		if err != nil {
			return nil, err
		}
		defer os.Remove(normalized)
		audioPath = normalized
	}

	task := req.Task
	if task == "" {
		task = types.TaskTranscribe
	}
	payload, err := json.Marshal(workerRequest{Audio: audioPath, Language: req.Language, Task: string(task)})
	if err != nil {
		return nil, err
	}

	we.logger.Debug("Transcribing with faster-whisper", zap.String("audio", audioPath), zap.String("task", string(task)))

	if _, err := we.stdin.Write(append(payload, '\n')); err != nil {
		we.fail(err)
		return nil, fmt.Errorf("send request to whisper worker: %w", err)
	}

	line, err := we.readLine(ctx)
	if err != nil {
		return nil, err
	}

	var reply workerReply
	if err := json.Unmarshal(line, &reply); err != nil {
		we.fail(fmt.Errorf("bad reply line: %w", err))
		return nil, fmt.Errorf("failed to parse whisper reply: %w", err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	result := buildResult(reply)
	we.logger.Info("Transcription completed",
		zap.Int("segments", len(result.Segments)),
		zap.Float64("duration", result.Duration),
		zap.String("language", result.Language))
	return result, nil
}

// buildResult keeps segments in emission order and joins their text
func buildResult(reply workerReply) *types.TranscriptionResult {
	segments := reply.Segments
	if segments == nil {
		segments = []types.Segment{}
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	return &types.TranscriptionResult{
		Text:     strings.Join(texts, " "),
		Language: reply.Language,
		Duration: reply.Duration,
		Segments: segments,
	}
}

// readLine reads one reply line. If ctx ends first the worker is killed,
// since a half-read reply leaves the protocol out of sync.
func (we *WhisperEngine) readLine(ctx context.Context) ([]byte, error) {
	type read struct {
		line []byte
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		line, err := we.stdout.ReadBytes('\n')
		ch <- read{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			we.fail(r.err)
			return nil, we.stoppedErr()
		}
		return r.line, nil
	case <-ctx.Done():
		we.fail(ctx.Err())
		<-ch
		return nil, ctx.Err()
	}
}

// fail kills and reaps the worker; the engine is unusable afterwards
func (we *WhisperEngine) fail(cause error) {
	if we.dead != nil {
		return
	}
	we.dead = cause
	if we.cmd != nil && we.cmd.Process != nil {
		_ = we.cmd.Process.Kill()
		if err := we.cmd.Wait(); err != nil {
			we.dead = fmt.Errorf("%v (%v)", cause, err)
		}
	}
	if we.stderr != nil {
		we.stderr.Close()
	}
	we.logger.Error("Whisper worker stopped", zap.Error(we.dead))
}

func (we *WhisperEngine) stoppedErr() error {
	if we.dead != nil {
		return fmt.Errorf("%w: %v", ErrEngineStopped, we.dead)
	}
	return ErrEngineStopped
}

// Close asks the worker to exit and kills it if it does not
func (we *WhisperEngine) Close() error {
	we.mu.Lock()
	defer we.mu.Unlock()

	defer func() {
		if we.scriptPath != "" {
			os.Remove(we.scriptPath)
		}
	}()

	if we.cmd == nil || we.dead != nil {
		return nil
	}
	we.dead = ErrEngineStopped

	we.stdin.Close()
	exited := make(chan error, 1)
	go func() { exited <- we.cmd.Wait() }()

	select {
	case err := <-exited:
		we.stderr.Close()
		return err
	case <-time.After(5 * time.Second):
		_ = we.cmd.Process.Kill()
		err := <-exited
		we.stderr.Close()
		return err
	}
}
