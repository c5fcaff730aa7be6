package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		in      string
		want    Task
		wantErr bool
	}{
		{in: "", want: TaskTranscribe},
		{in: "transcribe", want: TaskTranscribe},
		{in: "translate", want: TaskTranslate},
		{in: "Translate", wantErr: true},
		{in: "summarize", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTask(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
