package lipsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/lip2sync-api/internal/script"
)

// mockRunner implements script.Runner for testing.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, cmd script.Command) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

// mockProcessor implements media.Processor for testing.
type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ImageToVideo(ctx context.Context, imagePath, outputPath string, fps int, duration time.Duration) error {
	args := m.Called(ctx, imagePath, outputPath, fps, duration)
	return args.Error(0)
}

func (m *mockProcessor) MergeAudioVideo(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := m.Called(ctx, videoPath, audioPath, outputPath)
	return args.Error(0)
}

// mockConverter implements audio.Converter for testing.
type mockConverter struct {
	mock.Mock
}

func (m *mockConverter) ToWAV(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

// flagValue returns the argument following flag.
func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writesFlag returns a mock Run hook that writes content to the path passed after flag.
func writesFlag(t *testing.T, flag, content string) func(mock.Arguments) {
	t.Helper()
	return func(args mock.Arguments) {
		cmd := args.Get(1).(script.Command)
		path := flagValue(cmd.Args, flag)
		require.NotEmpty(t, path, "missing %s in %v", flag, cmd.Args)
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
}

// newModelDir creates a Wav2Lip directory with infer.py and its checkpoint.
func newModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "checkpoints"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "infer.py"), []byte("# infer"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoints", "wav2lip.pth"), []byte("weights"), 0600))
	return dir
}
