package transcription

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NormalizeAudio converts any audio file to 16kHz mono WAV format in dir
func NormalizeAudio(ctx context.Context, inputPath, dir string) (string, error) {
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	outputPath := filepath.Join(dir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin",
		"-i", inputPath,
		"-ar", "16000",      // 16kHz sample rate
		"-ac", "1",          // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v: %s", err, lastLine(output))
	}

	return outputPath, nil
}

// lastLine keeps ffmpeg's final diagnostic, the banner before it is noise
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
