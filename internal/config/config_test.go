package config

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ".", cfg.Workspace)
	assert.Equal(t, "python3", cfg.PythonBin)
	assert.Equal(t, "ffmpeg", cfg.FFmpegBin)
	assert.Equal(t, "models/wav2lip", cfg.Wav2LipDir)
	assert.Equal(t, "Wav2Lip", cfg.Wav2LipSingleImageDir)
	assert.Equal(t, "inference_sadtalker.py", cfg.SadTalkerScript)
	assert.Equal(t, 60, cfg.ImageVideoFPS)
	assert.Equal(t, 4*time.Second, cfg.ImageVideoDuration)
	assert.True(t, cfg.NormalizeAudio)
	assert.Equal(t, 30*time.Minute, cfg.ProcessTimeout)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.Equal(t, int64(200), cfg.MaxUploadMB)
	assert.Equal(t, 24*time.Hour, cfg.RetentionPeriod)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("WORKSPACE", "/workspace")
	t.Setenv("PYTHON_BIN", "/usr/bin/python3.10")
	t.Setenv("WAV2LIP_DIR", "/workspace/Wav2Lip")
	t.Setenv("IMAGE_VIDEO_FPS", "25")
	t.Setenv("IMAGE_VIDEO_DURATION", "2500ms")
	t.Setenv("NORMALIZE_AUDIO", "false")
	t.Setenv("MAX_CONCURRENT_JOBS", "4")
	t.Setenv("RETENTION_PERIOD", "0s")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/workspace", cfg.Workspace)
	assert.Equal(t, filepath.Join("/workspace", "temp"), cfg.TempDir())
	assert.Equal(t, filepath.Join("/workspace", "outputs"), cfg.OutputsDir())
	assert.Equal(t, "/usr/bin/python3.10", cfg.PythonBin)
	assert.Equal(t, "/workspace/Wav2Lip", cfg.Wav2LipDir)
	assert.Equal(t, 25, cfg.ImageVideoFPS)
	assert.Equal(t, 2500*time.Millisecond, cfg.ImageVideoDuration)
	assert.False(t, cfg.NormalizeAudio)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
	assert.Equal(t, time.Duration(0), cfg.RetentionPeriod)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("unparseable integer", func(t *testing.T) {
		t.Setenv("PORT", "not-a-number")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("out of range port", func(t *testing.T) {
		t.Setenv("PORT", "70000")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("zero fps", func(t *testing.T) {
		t.Setenv("IMAGE_VIDEO_FPS", "0")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_MaxUploadBytes(t *testing.T) {
	cfg := &Config{MaxUploadMB: 3}
	assert.Equal(t, int64(3*1024*1024), cfg.MaxUploadBytes())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8000,
		Workspace:          "/workspace",
		Wav2LipDir:         "models/wav2lip",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSSecretAccessKey: "secret-key",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	assert.Contains(t, str, "8000")
	assert.Contains(t, str, "/workspace")
	assert.Contains(t, str, "models/wav2lip")
	assert.NotContains(t, str, "secret-key")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.IsType(t, &slog.JSONHandler{}, logger.Handler())

	var buf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	testLogger.Info("test message")

	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.IsType(t, &slog.TextHandler{}, logger.Handler())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
