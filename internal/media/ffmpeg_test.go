package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maauso/lip2sync-api/internal/audio"
	"github.com/maauso/lip2sync-api/internal/script"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// recordingFFmpeg writes a fake ffmpeg that stores its argv, one per line,
// and exits with exitCode.
func recordingFFmpeg(t *testing.T, exitCode int) (bin, argsFile string) {
	t.Helper()
	return recordingFFmpegWithStderr(t, exitCode, "fake ffmpeg stderr")
}

func recordingFFmpegWithStderr(t *testing.T, exitCode int, stderr string) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %q\necho %q >&2\nexit %d\n", argsFile, stderr, exitCode)
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return bin, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// createTestImage creates a simple test image using ffmpeg.
func createTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=red:s=%dx%d:d=1", width, height),
		"-frames:v", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test image: %v\noutput: %s", err, output)
	}
}

// createTestAudio creates a sine wave WAV file using ffmpeg.
func createTestAudio(t *testing.T, path string, duration float64) {
	t.Helper()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%.1f", duration),
		"-ar", "16000", "-ac", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test audio: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("", nil)
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg", nil)
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
	})
}

func TestImageToVideo_Args(t *testing.T) {
	bin, argsFile := recordingFFmpeg(t, 0)
	p := NewFFmpegProcessor(bin, nil)

	err := p.ImageToVideo(context.Background(), "/ws/temp/j_img.png", "/ws/temp/j_temp.mp4", 60, 4*time.Second)
	if err != nil {
		t.Fatalf("ImageToVideo failed: %v", err)
	}

	want := []string{
		"-y", "-loop", "1", "-i", "/ws/temp/j_img.png",
		"-t", "4", "-r", "60",
		"-vf", evenDimensions,
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-an",
		"/ws/temp/j_temp.mp4",
	}
	got := readArgs(t, argsFile)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("unexpected args:\n got: %v\nwant: %v", got, want)
	}
}

func TestImageToVideo_FractionalDuration(t *testing.T) {
	bin, argsFile := recordingFFmpeg(t, 0)
	p := NewFFmpegProcessor(bin, nil)

	if err := p.ImageToVideo(context.Background(), "in.png", "out.mp4", 25, 1500*time.Millisecond); err != nil {
		t.Fatalf("ImageToVideo failed: %v", err)
	}

	got := strings.Join(readArgs(t, argsFile), " ")
	if !strings.Contains(got, "-t 1.5 -r 25") {
		t.Errorf("expected '-t 1.5 -r 25' in args, got %s", got)
	}
}

func TestImageToVideo_InvalidInput(t *testing.T) {
	p := NewFFmpegProcessor("/nonexistent/ffmpeg", nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		image    string
		output   string
		fps      int
		duration time.Duration
		want     error
	}{
		{"zero fps", "in.png", "out.mp4", 0, time.Second, ErrInvalidFPS},
		{"negative fps", "in.png", "out.mp4", -1, time.Second, ErrInvalidFPS},
		{"zero duration", "in.png", "out.mp4", 60, 0, ErrInvalidDuration},
		{"missing image", "", "out.mp4", 60, time.Second, ErrMissingPath},
		{"missing output", "in.png", "", 60, time.Second, ErrMissingPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ImageToVideo(ctx, tt.image, tt.output, tt.fps, tt.duration)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMergeAudioVideo_Args(t *testing.T) {
	bin, argsFile := recordingFFmpeg(t, 0)
	p := NewFFmpegProcessor(bin, nil)

	err := p.MergeAudioVideo(context.Background(), "v.mp4", "a.wav", "merged.mp4")
	if err != nil {
		t.Fatalf("MergeAudioVideo failed: %v", err)
	}

	want := "-y -i v.mp4 -i a.wav -map 0:v:0 -map 1:a:0 -c:v copy -c:a aac -shortest merged.mp4"
	if got := strings.Join(readArgs(t, argsFile), " "); got != want {
		t.Errorf("unexpected args:\n got: %s\nwant: %s", got, want)
	}
}

func TestMergeAudioVideo_MissingPath(t *testing.T) {
	p := NewFFmpegProcessor("", nil)
	err := p.MergeAudioVideo(context.Background(), "v.mp4", "", "out.mp4")
	if !errors.Is(err, ErrMissingPath) {
		t.Errorf("expected ErrMissingPath, got %v", err)
	}
}

func TestRunFFmpeg_Failure(t *testing.T) {
	bin, _ := recordingFFmpeg(t, 1)
	p := NewFFmpegProcessor(bin, nil)

	err := p.MergeAudioVideo(context.Background(), "v.mp4", "a.wav", "out.mp4")
	var exitErr *script.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected script.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Output, "fake ffmpeg stderr") {
		t.Errorf("expected stderr to be captured, got %q", exitErr.Output)
	}
	if errors.Is(err, audio.ErrNoAudioStream) {
		t.Errorf("generic failure reported as missing audio: %v", err)
	}
}

func TestMergeAudioVideo_NoAudioStream(t *testing.T) {
	bin, _ := recordingFFmpegWithStderr(t, 1, "Stream map '1:a:0' matches no streams.")
	p := NewFFmpegProcessor(bin, nil)

	err := p.MergeAudioVideo(context.Background(), "v.mp4", "silent.mp4", "out.mp4")
	if !errors.Is(err, audio.ErrNoAudioStream) {
		t.Errorf("expected audio.ErrNoAudioStream, got %v", err)
	}
}

func TestMergeAudioVideo_NoVideoStreamIsNotAudioError(t *testing.T) {
	bin, _ := recordingFFmpegWithStderr(t, 1, "Stream map '0:v:0' matches no streams.")
	p := NewFFmpegProcessor(bin, nil)

	err := p.MergeAudioVideo(context.Background(), "voice.wav", "a.wav", "out.mp4")
	if err == nil || errors.Is(err, audio.ErrNoAudioStream) {
		t.Errorf("expected a plain ffmpeg failure, got %v", err)
	}
}

func TestRunFFmpeg_LogsCommand(t *testing.T) {
	bin, _ := recordingFFmpeg(t, 0)
	var logs bytes.Buffer
	runner := script.NewExecRunner(slog.New(slog.NewTextHandler(&logs, nil)))
	p := NewFFmpegProcessor(bin, runner)

	if err := p.ImageToVideo(context.Background(), "face.png", "face.mp4", 25, time.Second); err != nil {
		t.Fatalf("ImageToVideo failed: %v", err)
	}

	out := logs.String()
	if !strings.Contains(out, "running external command") {
		t.Errorf("expected command to be logged, got %q", out)
	}
	if !strings.Contains(out, bin+" -y -loop 1 -i face.png") {
		t.Errorf("expected argv in log, got %q", out)
	}
}

func TestRunFFmpeg_Cancelled(t *testing.T) {
	bin, _ := recordingFFmpeg(t, 0)
	p := NewFFmpegProcessor(bin, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.MergeAudioVideo(ctx, "v.mp4", "a.wav", "out.mp4")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestImageToVideo_Real(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpegProcessor("", nil)

	// Odd dimensions must still encode with libx264.
	img := filepath.Join(tmpDir, "face.png")
	createTestImage(t, img, 101, 75)

	out := filepath.Join(tmpDir, "face.mp4")
	if err := p.ImageToVideo(context.Background(), img, out, 25, time.Second); err != nil {
		t.Fatalf("ImageToVideo failed: %v", err)
	}

	duration := probeDuration(t, out)
	if duration < 0.9 || duration > 1.1 {
		t.Errorf("expected ~1s video, got %.2fs", duration)
	}
}

func TestMergeAudioVideo_Real(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpegProcessor("", nil)
	ctx := context.Background()

	img := filepath.Join(tmpDir, "face.png")
	createTestImage(t, img, 64, 64)
	video := filepath.Join(tmpDir, "face.mp4")
	if err := p.ImageToVideo(ctx, img, video, 25, 2*time.Second); err != nil {
		t.Fatalf("ImageToVideo failed: %v", err)
	}

	audio := filepath.Join(tmpDir, "voice.wav")
	createTestAudio(t, audio, 1.0)

	merged := filepath.Join(tmpDir, "merged.mp4")
	if err := p.MergeAudioVideo(ctx, video, audio, merged); err != nil {
		t.Fatalf("MergeAudioVideo failed: %v", err)
	}

	streams := probeStreams(t, merged)
	if !strings.Contains(streams, "video") || !strings.Contains(streams, "audio") {
		t.Errorf("expected audio and video streams, got %q", streams)
	}
}

func probeDuration(t *testing.T, path string) float64 {
	t.Helper()
	output, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}

	var duration float64
	if _, err := fmt.Sscanf(string(output), "%f", &duration); err != nil {
		t.Fatalf("failed to parse duration: %s", output)
	}
	return duration
}

func probeStreams(t *testing.T, path string) string {
	t.Helper()
	output, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}
	return string(output)
}
