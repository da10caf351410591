// Package lipsync drives the external lip-sync models.
//
// Each Engine turns a saved face source and an audio clip into a video by
// sequencing ffmpeg and a model inference script. Service runs engines as
// jobs: it saves uploads, bounds concurrency and deadlines, publishes the
// result under the engine's canonical name and records the job history.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maauso/lip2sync-api/internal/job"
)

// Pipeline errors. Engines and Service wrap the underlying cause with one of
// these so callers can classify failures with errors.Is.
var (
	// ErrModelNotFound is returned when an inference script or checkpoint is missing.
	ErrModelNotFound = errors.New("model not found")
	// ErrConversionFailed is returned when an image or audio conversion fails.
	ErrConversionFailed = errors.New("media conversion failed")
	// ErrMergeFailed is returned when muxing audio into the face video fails.
	ErrMergeFailed = errors.New("ffmpeg merge failed")
	// ErrInferenceFailed is returned when the inference script fails.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrOutputNotFound is returned when inference exits cleanly without writing a video.
	ErrOutputNotFound = errors.New("inference output not found")
	// ErrPublishFailed is returned when the result cannot be uploaded to object storage.
	ErrPublishFailed = errors.New("publish failed")
	// ErrUnsupportedSource is returned when the source media class is not accepted by the engine.
	ErrUnsupportedSource = errors.New("unsupported source media")
	// ErrUnknownEngine is returned when no engine is registered for the requested kind.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrBusy is returned when the caller gives up while waiting for a processing slot.
	ErrBusy = errors.New("all processing slots are busy")
)

// MediaClass is the broad kind of an uploaded file.
type MediaClass string

const (
	MediaImage MediaClass = "image"
	MediaVideo MediaClass = "video"
	MediaAudio MediaClass = "audio"
)

// StepTracker records the stages a job goes through. *job.Job implements it.
type StepTracker interface {
	BeginStep(name string)
	EndStep(name string, err error)
}

// Step names recorded on jobs.
const (
	StepSaveUploads    = "save_uploads"
	StepNormalizeAudio = "normalize_audio"
	StepImageToVideo   = "image_to_video"
	StepMergeAudio     = "merge_audio"
	StepInference      = "inference"
	StepPublish        = "publish"
	StepUpload         = "upload_s3"
)

// Inputs are the saved files an engine works on.
type Inputs struct {
	// JobID prefixes every file the engine writes.
	JobID string
	// Source is the absolute path of the face image or video.
	Source string
	// SourceClass tells whether Source is an image or a video.
	SourceClass MediaClass
	// Audio is the absolute path of the driving audio.
	Audio string
	// Steps, if set, receives a record of every stage.
	Steps StepTracker
}

// Engine is one lip-sync pipeline.
type Engine interface {
	// Kind identifies the engine.
	Kind() job.Engine
	// CanonicalName is the file under outputs/ the latest result is published to.
	CanonicalName() string
	// SourceKinds lists the source media classes the engine accepts.
	SourceKinds() []MediaClass
	// Check verifies the model files exist without starting any process.
	Check() error
	// Generate produces the job-specific output video and returns its path.
	Generate(ctx context.Context, in Inputs) (string, error)
}

// Paths resolves job files inside the workspace. storage.Storage implements it.
type Paths interface {
	TempPath(name string) string
	OutputPath(name string) string
}

// track runs fn as the named step of in.
func track(in Inputs, name string, fn func() error) error {
	if in.Steps != nil {
		in.Steps.BeginStep(name)
	}
	err := fn()
	if in.Steps != nil {
		in.Steps.EndStep(name, err)
	}
	return err
}

// requireFile reports ErrModelNotFound with a "<label> not found at <path>" message.
func requireFile(label, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s not found at %s", ErrModelNotFound, label, path)
	}
	return nil
}

// absPath resolves p against the process working directory.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// requireOutput reports ErrOutputNotFound when path does not exist.
func requireOutput(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrOutputNotFound, path)
	}
	return nil
}
