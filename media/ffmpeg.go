package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrFFmpegMissing is returned when ffmpeg is not on PATH.
var ErrFFmpegMissing = errors.New("ffmpeg not found in PATH")

// ConvertToWAV re-encodes input as mono 16 kHz PCM WAV in dir and returns the
// new path. The input file is left in place.
func ConvertToWAV(ctx context.Context, input, dir string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", ErrFFmpegMissing
	}
	if dir == "" {
		dir = os.TempDir()
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(dir, base+"_16k.wav")

	// ffmpeg -y -i input -acodec pcm_s16le -ac 1 -ar 16000 -f wav output
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-y", "-loglevel", "error", "-i", input,
		"-acodec", "pcm_s16le",
		"-ac", "1", "-ar", "16000",
		"-f", "wav",
		out,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	logger.Debug("audio converted", zap.String("input", input), zap.String("output", out))
	return out, nil
}

// RemoveWithRetry deletes path, retrying while the platform reports it busy.
// A path that does not exist counts as removed.
func RemoveWithRetry(path string, attempts int, delay time.Duration) error {
	if path == "" {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = os.Remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("remove %s after %d attempts: %w", path, attempts, err)
}
