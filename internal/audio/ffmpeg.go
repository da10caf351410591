package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/maauso/lip2sync-api/internal/script"
)

// ErrNoAudioStream is returned when the input has no decodable audio.
var ErrNoAudioStream = errors.New("input has no audio stream")

// Compile-time check that FFmpegConverter implements Converter.
var _ Converter = (*FFmpegConverter)(nil)

// FFmpegConverter implements Converter using ffmpeg CLI.
type FFmpegConverter struct {
	ffmpegPath string
	runner     script.Runner
}

// NewFFmpegConverter creates a new FFmpegConverter that runs ffmpeg through runner.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
// A nil runner means a script.ExecRunner logging to slog.Default().
func NewFFmpegConverter(ffmpegPath string, runner script.Runner) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = script.NewExecRunner(nil)
	}
	return &FFmpegConverter{ffmpegPath: ffmpegPath, runner: runner}
}

// ToWAV implements Converter.ToWAV.
func (c *FFmpegConverter) ToWAV(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("input file does not exist: %s", src)
	}

	err := c.runner.Run(ctx, script.Command{
		Name: c.ffmpegPath,
		Args: []string{
			"-y",
			"-i", src,
			"-vn", // Drop any video stream
			"-ac", strconv.Itoa(Channels),
			"-ar", strconv.Itoa(SampleRate),
			"-c:a", "pcm_s16le",
			dst,
		},
	})
	if err == nil {
		return nil
	}

	var exitErr *script.ExitError
	if errors.As(err, &exitErr) && strings.Contains(exitErr.Output, "does not contain any stream") {
		return fmt.Errorf("%w: %s", ErrNoAudioStream, src)
	}
	return fmt.Errorf("convert audio: %w", err)
}
