package lipsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/maauso/lip2sync-api/internal/audio"
	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/storage"
)

// Request contains the uploads of one lip-sync run.
type Request struct {
	// Engine selects the pipeline.
	Engine job.Engine
	// Source is the face image or video.
	Source io.Reader
	// SourceExt is the file extension the source is saved with, including the dot.
	SourceExt string
	// SourceClass tells whether Source is an image or a video.
	SourceClass MediaClass
	// Audio is the driving audio.
	Audio io.Reader
	// AudioExt is the file extension the audio is saved with, including the dot.
	AudioExt string
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool
	// OnStart, if set, is called once the run holds a processing slot and
	// before any of its steps execute.
	OnStart func()
}

// Result describes a finished run.
type Result struct {
	// JobID is the unique identifier of the run.
	JobID string
	// OutputPath is the job-specific video. Responses are served from it.
	OutputPath string
	// PublishedPath is the canonical video, or OutputPath if publishing failed.
	PublishedPath string
	// VideoURL is the S3 URL of the output video (if pushed to S3).
	VideoURL string
}

// Service runs lip-sync jobs.
type Service struct {
	engines   map[job.Engine]Engine
	store     storage.Storage
	converter audio.Converter
	repo      job.Repository
	logger    *slog.Logger

	// slots bounds concurrent pipelines. nil means unbounded.
	slots          chan struct{}
	timeout        time.Duration
	normalizeAudio bool
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrentJobs limits how many pipelines run at once. n <= 0 removes the limit.
func WithMaxConcurrentJobs(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		} else {
			s.slots = nil
		}
	}
}

// WithTimeout bounds each run once it holds a processing slot. d <= 0 disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithAudioNormalization converts uploaded audio to 16 kHz mono WAV before inference.
func WithAudioNormalization(enabled bool) Option {
	return func(s *Service) {
		s.normalizeAudio = enabled
	}
}

// NewService creates a new Service running the given engines.
// By default one job runs at a time, without a deadline and without audio normalisation.
func NewService(
	engines []Engine,
	store storage.Storage,
	converter audio.Converter,
	repo job.Repository,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		engines:   make(map[job.Engine]Engine, len(engines)),
		store:     store,
		converter: converter,
		repo:      repo,
		logger:    logger,
		slots:     make(chan struct{}, 1),
	}
	for _, e := range engines {
		s.engines[e.Kind()] = e
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the engine registered for kind.
func (s *Service) Engine(kind job.Engine) (Engine, bool) {
	e, ok := s.engines[kind]
	return e, ok
}

// CanonicalNames lists the canonical output file names of all engines.
func (s *Service) CanonicalNames() []string {
	names := make([]string, 0, len(s.engines))
	for _, e := range s.engines {
		names = append(names, e.CanonicalName())
	}
	slices.Sort(names)
	return names
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*job.Job, error) {
	return s.repo.List(ctx)
}

// Run executes one lip-sync job to completion.
//
// The workflow:
//  1. Check the engine's model files
//  2. Wait for a processing slot, then call Request.OnStart
//  3. Save the uploads and optionally normalise the audio
//  4. Generate the job-specific video
//  5. Publish it under the engine's canonical name
//  6. Optionally push it to S3
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	engine, ok := s.engines[req.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, req.Engine)
	}
	if !slices.Contains(engine.SourceKinds(), req.SourceClass) {
		return nil, fmt.Errorf("%w: %s does not accept %s input", ErrUnsupportedSource, req.Engine, req.SourceClass)
	}
	if err := engine.Check(); err != nil {
		return nil, err
	}

	j := job.New(req.Engine)
	logger := s.logger.With(
		slog.String("job_id", j.ID),
		slog.String("engine", string(req.Engine)),
	)
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	logger.Info("job queued", slog.Bool("push_to_s3", req.PushToS3))

	release, err := s.acquire(ctx)
	if err != nil {
		s.finish(ctx, logger, j, err)
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer release()

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := j.Start(); err != nil {
		return nil, err
	}
	s.save(ctx, logger, j)
	logger.Info("job started")
	if req.OnStart != nil {
		req.OnStart()
	}

	res, err := s.process(runCtx, logger, engine, j, req)
	if err != nil {
		s.finish(runCtx, logger, j, err)
		return nil, err
	}

	if err := j.Complete(); err != nil {
		return nil, err
	}
	s.save(ctx, logger, j)
	logger.Info("job completed",
		slog.String("output_path", res.OutputPath),
		slog.String("published_path", res.PublishedPath),
		slog.Duration("elapsed", time.Since(j.StartedAt)),
	)

	return res, nil
}

func (s *Service) process(ctx context.Context, logger *slog.Logger, engine Engine, j *job.Job, req Request) (*Result, error) {
	var sourcePath, audioPath string
	err := track(Inputs{Steps: j}, StepSaveUploads, func() error {
		var err error
		sourcePath, err = s.store.SaveTemp(ctx, j.ID+"_source"+req.SourceExt, req.Source)
		if err != nil {
			return fmt.Errorf("save source: %w", err)
		}
		audioPath, err = s.store.SaveTemp(ctx, j.ID+"_audio"+req.AudioExt, req.Audio)
		if err != nil {
			return fmt.Errorf("save audio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	j.SetInputs(sourcePath, audioPath)

	if s.normalizeAudio {
		wav := s.store.TempPath(j.ID + "_audio_16k.wav")
		err := track(Inputs{Steps: j}, StepNormalizeAudio, func() error {
			return s.converter.ToWAV(ctx, audioPath, wav)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
		audioPath = wav
	}

	output, err := engine.Generate(ctx, Inputs{
		JobID:       j.ID,
		Source:      sourcePath,
		SourceClass: req.SourceClass,
		Audio:       audioPath,
		Steps:       j,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{JobID: j.ID, OutputPath: output, PublishedPath: output}

	var canonical string
	err = track(Inputs{Steps: j}, StepPublish, func() error {
		var err error
		canonical, err = s.store.Publish(ctx, output, engine.CanonicalName())
		return err
	})
	if err != nil {
		logger.Warn("failed to publish canonical output, returning job output",
			slog.String("canonical", engine.CanonicalName()),
			slog.String("error", err.Error()),
		)
	} else {
		res.PublishedPath = canonical
	}
	j.SetOutput(output, canonical)

	if req.PushToS3 {
		url, err := s.upload(ctx, j, output)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		j.SetVideoURL(url)
		res.VideoURL = url
	}

	return res, nil
}

func (s *Service) upload(ctx context.Context, j *job.Job, path string) (string, error) {
	var url string
	err := track(Inputs{Steps: j}, StepUpload, func() error {
		f, err := os.Open(path) // #nosec G304 - path is the job output written by an engine
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		url, err = s.store.UploadToS3(ctx, fmt.Sprintf("videos/%s.mp4", j.ID), f)
		return err
	})
	return url, err
}

// acquire takes a processing slot, giving up when ctx is done.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if s.slots == nil {
		return func() {}, nil
	}
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish moves j to the terminal state matching err and ctx.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, j *job.Job, err error) {
	msg := err.Error()

	var transitionErr error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		transitionErr = j.Timeout(msg)
	case errors.Is(ctx.Err(), context.Canceled):
		transitionErr = j.Cancel(msg)
	default:
		transitionErr = j.Fail(msg)
	}
	if transitionErr != nil {
		logger.Warn("failed to record job failure", slog.String("error", transitionErr.Error()))
	}

	s.save(ctx, logger, j)
	logger.Error("job failed",
		slog.String("status", string(j.GetStatus())),
		slog.String("error", msg),
	)
}

// save persists j. It runs even after ctx is done so the final state is recorded.
func (s *Service) save(ctx context.Context, logger *slog.Logger, j *job.Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}
