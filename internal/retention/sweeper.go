// Package retention periodically removes old workspace files and job records.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/storage"
)

// ErrInvalidSchedule is returned when the cleanup schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid cleanup schedule")

// stopTimeout bounds how long Stop waits for a running sweep.
const stopTimeout = 10 * time.Second

// Report summarises one sweep.
type Report struct {
	// Files is the number of workspace entries removed.
	Files int
	// Jobs is the number of job records removed.
	Jobs int
}

// Sweeper deletes workspace entries and finished jobs older than the
// retention period. Canonical outputs and the files of unfinished jobs are
// never removed.
type Sweeper struct {
	store     storage.Storage
	repo      job.Repository
	keep      []string
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewSweeper creates a Sweeper running on schedule, a standard five-field
// cron expression or descriptor such as "@hourly". keep lists file names
// that are never removed. A retention of zero or less disables sweeping.
func NewSweeper(
	store storage.Storage,
	repo job.Repository,
	keep []string,
	retention time.Duration,
	schedule string,
	logger *slog.Logger,
) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		store:     store,
		repo:      repo,
		keep:      keep,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
		now:       time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, schedule, err)
	}

	return s, nil
}

// Enabled reports whether sweeping is active.
func (s *Sweeper) Enabled() bool {
	return s.retention > 0
}

// Start begins running sweeps on the schedule. It is a no-op when disabled.
func (s *Sweeper) Start() {
	if !s.Enabled() {
		s.logger.Info("retention disabled")
		return
	}
	s.logger.Info("retention sweeper started", slog.Duration("retention", s.retention))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop sweeper: %w", ctx.Err())
	case <-time.After(stopTimeout):
		return errors.New("stop sweeper: timeout")
	}
}

func (s *Sweeper) runScheduled() {
	report, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if report.Files > 0 || report.Jobs > 0 {
		s.logger.Info("retention sweep finished",
			slog.Int("files", report.Files),
			slog.Int("jobs", report.Jobs),
		)
	}
}

// Sweep removes everything older than the retention period once.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	if !s.Enabled() {
		return report, nil
	}

	cutoff := s.now().Add(-s.retention)

	jobs, err := s.repo.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}

	active := lo.FilterMap(jobs, func(j *job.Job, _ int) (string, bool) {
		return j.ID, !j.IsTerminal()
	})

	paths, err := s.store.Expired(ctx, cutoff, s.keep)
	if err != nil {
		return report, fmt.Errorf("list expired files: %w", err)
	}

	// Files are prefixed with the ID of the job that wrote them.
	paths = lo.Reject(paths, func(p string, _ int) bool {
		name := filepath.Base(p)
		return lo.ContainsBy(active, func(id string) bool {
			return strings.HasPrefix(name, id)
		})
	})

	if len(paths) > 0 {
		if err := s.store.CleanupTemp(ctx, paths); err != nil {
			return report, fmt.Errorf("remove expired files: %w", err)
		}
	}
	report.Files = len(paths)

	expired := lo.Filter(jobs, func(j *job.Job, _ int) bool {
		return j.IsTerminal() && j.CompletedAt.Before(cutoff)
	})
	for _, j := range expired {
		if err := s.repo.Delete(ctx, j.ID); err != nil && !errors.Is(err, job.ErrJobNotFound) {
			return report, fmt.Errorf("delete job %s: %w", j.ID, err)
		}
		report.Jobs++
	}

	return report, nil
}
