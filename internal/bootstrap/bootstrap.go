// Package bootstrap provides dependency initialization for the Lip2Sync API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/lip2sync-api/internal/audio"
	"github.com/maauso/lip2sync-api/internal/config"
	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/lipsync"
	"github.com/maauso/lip2sync-api/internal/media"
	"github.com/maauso/lip2sync-api/internal/retention"
	"github.com/maauso/lip2sync-api/internal/script"
	"github.com/maauso/lip2sync-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Storage storage.Storage
	Service *lipsync.Service
	Sweeper *retention.Sweeper
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// External tools
	runner := script.NewExecRunner(logger, script.WithDir(cfg.Workspace))
	processor := media.NewFFmpegProcessor(cfg.FFmpegBin, runner)
	converter := audio.NewFFmpegConverter(cfg.FFmpegBin, runner)

	engines := newEngines(cfg, runner, processor, store)
	for _, e := range engines {
		if err := e.Check(); err != nil {
			// Not fatal: requests to this engine fail until the model is installed.
			logger.Warn("model not available",
				slog.String("engine", string(e.Kind())),
				slog.String("error", err.Error()),
			)
		}
	}

	// Initialize job repository
	repo := job.NewMemoryRepository()

	svc := lipsync.NewService(engines, store, converter, repo, logger,
		lipsync.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		lipsync.WithTimeout(cfg.ProcessTimeout),
		lipsync.WithAudioNormalization(cfg.NormalizeAudio),
	)

	sweeper, err := retention.NewSweeper(store, repo, svc.CanonicalNames(),
		cfg.RetentionPeriod, cfg.CleanupSchedule, logger)
	if err != nil {
		return nil, fmt.Errorf("create retention sweeper: %w", err)
	}

	return &Dependencies{
		Storage: store,
		Service: svc,
		Sweeper: sweeper,
	}, nil
}

func newEngines(cfg *config.Config, runner script.Runner, processor media.Processor, paths lipsync.Paths) []lipsync.Engine {
	wav2lip := lipsync.Wav2LipConfig{
		PythonBin: cfg.PythonBin,
		ModelDir:  cfg.Wav2LipDir,
		FPS:       cfg.ImageVideoFPS,
		Duration:  cfg.ImageVideoDuration,
	}
	singleImage := wav2lip
	singleImage.ModelDir = cfg.Wav2LipSingleImageDir

	return []lipsync.Engine{
		lipsync.NewWav2Lip(wav2lip, runner, processor, paths),
		lipsync.NewWav2LipSingleImage(singleImage, runner, processor, paths),
		lipsync.NewSadTalker(lipsync.SadTalkerConfig{
			PythonBin: cfg.PythonBin,
			Script:    cfg.SadTalkerScript,
		}, runner, paths),
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.Workspace, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("workspace", s3Store.Workspace()),
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("workspace", localStore.Workspace()),
	)
	return localStore, nil
}
