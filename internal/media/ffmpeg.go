package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/lip2sync-api/internal/audio"
	"github.com/maauso/lip2sync-api/internal/script"
)

// Static errors for media operations.
var (
	// ErrInvalidFPS is returned when the frame rate is not positive.
	ErrInvalidFPS = errors.New("invalid frame rate: must be positive")
	// ErrInvalidDuration is returned when duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrMissingPath is returned when an input or output path is empty.
	ErrMissingPath = errors.New("input and output paths are required")
)

// evenDimensions rounds odd widths and heights down so libx264 accepts arbitrary images.
const evenDimensions = "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p"

// audioMap selects the audio of the second merge input.
const audioMap = "1:a:0"

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	runner     script.Runner
}

// NewFFmpegProcessor creates a new FFmpegProcessor that runs ffmpeg through runner.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
// A nil runner means a script.ExecRunner logging to slog.Default().
func NewFFmpegProcessor(ffmpegPath string, runner script.Runner) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = script.NewExecRunner(nil)
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, runner: runner}
}

// ImageToVideo creates an H.264 video by repeating a still image.
// The output has fps*duration frames and no audio track.
func (p *FFmpegProcessor) ImageToVideo(ctx context.Context, imagePath, outputPath string, fps int, duration time.Duration) error {
	if imagePath == "" || outputPath == "" {
		return ErrMissingPath
	}
	if fps <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidDuration, duration)
	}

	args := []string{
		"-y",         // Overwrite output file without asking
		"-loop", "1", // Loop the input image
		"-i", imagePath,
		"-t", formatSeconds(duration),
		"-r", strconv.Itoa(fps),
		"-vf", evenDimensions,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-an", // No audio track
		outputPath,
	}

	return p.runFFmpeg(ctx, args)
}

// MergeAudioVideo copies the video stream and encodes the audio to AAC.
// An audio input without an audio track yields audio.ErrNoAudioStream.
func (p *FFmpegProcessor) MergeAudioVideo(ctx context.Context, videoPath, audioPath, outputPath string) error {
	if videoPath == "" || audioPath == "" || outputPath == "" {
		return ErrMissingPath
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", // Video from the first input
		"-map", audioMap,
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	}

	err := p.runFFmpeg(ctx, args)
	var exitErr *script.ExitError
	if errors.As(err, &exitErr) && strings.Contains(exitErr.Output, "'"+audioMap+"' matches no streams") {
		return fmt.Errorf("%w: %s", audio.ErrNoAudioStream, audioPath)
	}
	return err
}

// formatSeconds renders d as fractional seconds for ffmpeg's -t flag.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// runFFmpeg executes ffmpeg with the given arguments. A failed run is
// reported as *script.ExitError carrying the tail of ffmpeg's output.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	return p.runner.Run(ctx, script.Command{Name: p.ffmpegPath, Args: args})
}
