package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferKeepsTail(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(lb, "line %d\n", i)
	}

	assert.Equal(t, []string{"line 2\n", "line 3\n", "line 4\n"}, lb.GetLogs())
}

func TestGetLogsReturnsCopy(t *testing.T) {
	lb := NewLogBuffer(2)
	fmt.Fprint(lb, "a")

	logs := lb.GetLogs()
	logs[0] = "mutated"
	assert.Equal(t, []string{"a"}, lb.GetLogs())
}

func TestLoggerWritesToBuffer(t *testing.T) {
	lb := NewLogBuffer(10)
	logger := New("production", lb)
	logger.Info("model ready")
	logger.Debug("hidden in production")
	_ = logger.Sync()

	logs := lb.GetLogs()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], `"msg":"model ready"`)
}
