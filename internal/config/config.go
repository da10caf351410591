// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalidConfig is returned when a loaded value fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8000" json:"port" validate:"min=1,max=65535"`

	// Workspace is the root under which temp/ and outputs/ are created.
	Workspace string `env:"WORKSPACE, default=." json:"workspace" validate:"required"`

	// External tools
	PythonBin string `env:"PYTHON_BIN, default=python3" json:"python_bin" validate:"required"`
	FFmpegBin string `env:"FFMPEG_BIN, default=ffmpeg" json:"ffmpeg_bin" validate:"required"`

	// Model locations
	Wav2LipDir            string `env:"WAV2LIP_DIR, default=models/wav2lip" json:"wav2lip_dir" validate:"required"`
	Wav2LipSingleImageDir string `env:"WAV2LIP_SINGLE_IMAGE_DIR, default=Wav2Lip" json:"wav2lip_single_image_dir" validate:"required"`
	SadTalkerScript       string `env:"SADTALKER_SCRIPT, default=inference_sadtalker.py" json:"sadtalker_script" validate:"required"`

	// Processing settings
	ImageVideoFPS      int           `env:"IMAGE_VIDEO_FPS, default=60" json:"image_video_fps" validate:"min=1,max=240"`
	ImageVideoDuration time.Duration `env:"IMAGE_VIDEO_DURATION, default=4s" json:"image_video_duration" validate:"gt=0"`
	NormalizeAudio     bool          `env:"NORMALIZE_AUDIO, default=true" json:"normalize_audio"`
	ProcessTimeout     time.Duration `env:"PROCESS_TIMEOUT, default=30m" json:"process_timeout" validate:"gte=0"`
	MaxConcurrentJobs  int           `env:"MAX_CONCURRENT_JOBS, default=1" json:"max_concurrent_jobs" validate:"gte=0"`
	MaxUploadMB        int64         `env:"MAX_UPLOAD_MB, default=200" json:"max_upload_mb" validate:"min=1"`

	// Retention settings
	RetentionPeriod time.Duration `env:"RETENTION_PERIOD, default=24h" json:"retention_period" validate:"gte=0"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE, default=@hourly" json:"cleanup_schedule" validate:"required"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// TempDir returns the directory holding uploads and intermediate files.
func (c *Config) TempDir() string {
	return filepath.Join(c.Workspace, "temp")
}

// OutputsDir returns the directory holding generated videos.
func (c *Config) OutputsDir() string {
	return filepath.Join(c.Workspace, "outputs")
}

// MaxUploadBytes returns the request body limit for a single upload request.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads configuration from environment variables using go-envconfig.
// A .env file in the working directory, if any, is applied first without
// overriding variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints declared on Config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Workspace: %s, PythonBin: %s, FFmpegBin: %s, Wav2LipDir: %s, SadTalkerScript: %s, MaxConcurrentJobs: %d, RetentionPeriod: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.Workspace,
		c.PythonBin,
		c.FFmpegBin,
		c.Wav2LipDir,
		c.SadTalkerScript,
		c.MaxConcurrentJobs,
		c.RetentionPeriod,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
