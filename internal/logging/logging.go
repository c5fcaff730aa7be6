// Package logging builds the service logger and keeps a tail of its output
// in memory for the /logs endpoint.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger writing to stdout and buf. mode "production"
// selects JSON output at info level, anything else console output at debug.
func New(mode string, buf *LogBuffer) *zap.Logger {
	var (
		encoder zapcore.Encoder
		level   zapcore.Level
	)
	if mode == "production" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		level = zapcore.InfoLevel
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zapcore.DebugLevel
	}

	sink := zapcore.Lock(os.Stdout)
	if buf != nil {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(buf))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	limit int
	mu    sync.Mutex
}

// NewLogBuffer keeps the last limit writes
func NewLogBuffer(limit int) *LogBuffer {
	return &LogBuffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	if len(lb.lines) > lb.limit {
		lb.lines = lb.lines[len(lb.lines)-lb.limit:]
	}

	return len(p), nil
}

// GetLogs returns a copy of the buffered lines, oldest first
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
