// Package job provides the Job aggregate for tracking lip-sync runs.
// It includes the Job entity with its state machine, the per-step record of
// the external commands a run went through, and repository interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/lip2sync-api/internal/job/id"
)

// Engine identifies the lip-sync pipeline a job runs through.
type Engine string

const (
	// EngineWav2Lip lip-syncs a face video (or image) to an audio clip with Wav2Lip.
	EngineWav2Lip Engine = "wav2lip"
	// EngineWav2LipSingleImage animates a single still image with Wav2Lip.
	EngineWav2LipSingleImage Engine = "wav2lip_single_image"
	// EngineSadTalker animates a single still image into a talking head with SadTalker.
	EngineSadTalker Engine = "sadtalker"
)

// IsValid returns true if the engine is known.
func (e Engine) IsValid() bool {
	return e == EngineWav2Lip || e == EngineWav2LipSingleImage || e == EngineSadTalker
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free processing slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job's external commands are executing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job produced its output video.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a step of the pipeline failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the caller went away before the job finished.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job exceeded its processing deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StepStatus represents the status of a single pipeline step.
type StepStatus string

const (
	// StepStatusRunning indicates the step's command is executing.
	StepStatusRunning StepStatus = "RUNNING"
	// StepStatusCompleted indicates the step finished successfully.
	StepStatusCompleted StepStatus = "COMPLETED"
	// StepStatusFailed indicates the step failed.
	StepStatusFailed StepStatus = "FAILED"
)

// Step records one stage of a job, such as image conversion or inference.
type Step struct {
	// Name identifies the stage (e.g. "merge_audio", "inference").
	Name string
	// Status is the current step status.
	Status StepStatus
	// Error contains any error message if the step failed.
	Error string
	// StartedAt is when the step started.
	StartedAt time.Time
	// CompletedAt is when the step finished.
	CompletedAt time.Time
}

// Job represents a single lip-sync request and everything it wrote to disk.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job. It prefixes every file the job writes.
	ID string
	// Engine is the pipeline used for this job.
	Engine Engine
	// Status is the current job state.
	Status Status
	// Steps lists the stages the job went through, in order.
	Steps []Step
	// Error contains any error message if the job failed.
	Error string
	// SourcePath is the path to the uploaded image or video.
	SourcePath string
	// AudioPath is the path to the uploaded audio.
	AudioPath string
	// OutputPath is the job-specific output video.
	OutputPath string
	// CanonicalPath is the shared per-endpoint output the job published to, if any.
	CanonicalPath string
	// VideoURL is the S3 URL if the output was uploaded.
	VideoURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job for the given engine with a generated ID and
// initial IN_QUEUE status.
func New(engine Engine) *Job {
	return NewWithID(id.Generate(), engine)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, engine Engine) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Engine:    engine,
		Status:    StatusInQueue,
		Steps:     make([]Step, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	return j.finishWithError(StatusFailed, errMsg)
}

// Cancel transitions the job to CANCELLED state with an error message.
func (j *Job) Cancel(errMsg string) error {
	return j.finishWithError(StatusCancelled, errMsg)
}

// Timeout transitions the job to TIMED_OUT state with an error message.
func (j *Job) Timeout(errMsg string) error {
	return j.finishWithError(StatusTimedOut, errMsg)
}

func (j *Job) finishWithError(status Status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// BeginStep appends a RUNNING step with the given name.
func (j *Job) BeginStep(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Steps = append(j.Steps, Step{Name: name, Status: StepStatusRunning, StartedAt: now})
	j.UpdatedAt = now
}

// EndStep finishes the most recent running step with the given name.
// A nil err marks it COMPLETED, anything else FAILED.
func (j *Job) EndStep(name string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.Steps) - 1; i >= 0; i-- {
		s := &j.Steps[i]
		if s.Name != name || s.Status != StepStatusRunning {
			continue
		}
		s.CompletedAt = time.Now()
		s.Status = StepStatusCompleted
		if err != nil {
			s.Status = StepStatusFailed
			s.Error = err.Error()
		}
		j.UpdatedAt = s.CompletedAt
		return
	}
}

// SetInputs records where the uploads were saved.
func (j *Job) SetInputs(sourcePath, audioPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SourcePath = sourcePath
	j.AudioPath = audioPath
	j.UpdatedAt = time.Now()
}

// SetOutput sets the job output path and the canonical path it was published to.
// canonicalPath is empty when publication failed.
func (j *Job) SetOutput(outputPath, canonicalPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = outputPath
	j.CanonicalPath = canonicalPath
	j.UpdatedAt = time.Now()
}

// SetVideoURL records the S3 URL of the uploaded output.
func (j *Job) SetVideoURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoURL = url
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	steps := make([]Step, len(j.Steps))
	copy(steps, j.Steps)

	return &Job{
		ID:            j.ID,
		Engine:        j.Engine,
		Status:        j.Status,
		Steps:         steps,
		Error:         j.Error,
		SourcePath:    j.SourcePath,
		AudioPath:     j.AudioPath,
		OutputPath:    j.OutputPath,
		CanonicalPath: j.CanonicalPath,
		VideoURL:      j.VideoURL,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
