package lipsync

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/media"
	"github.com/maauso/lip2sync-api/internal/script"
)

// Wav2Lip model layout inside its directory.
const (
	wav2lipScript     = "infer.py"
	wav2lipCheckpoint = "checkpoints/wav2lip.pth"
)

// Wav2LipConfig holds the settings shared by both Wav2Lip engines.
type Wav2LipConfig struct {
	// PythonBin is the interpreter used to run infer.py.
	PythonBin string
	// ModelDir contains infer.py and checkpoints/wav2lip.pth.
	ModelDir string
	// FPS is the frame rate of videos generated from still images.
	FPS int
	// Duration is the length of videos generated from still images.
	Duration time.Duration
}

// wav2lipModel runs the Wav2Lip inference script.
type wav2lipModel struct {
	python     string
	dir        string
	script     string
	checkpoint string
	runner     script.Runner
}

func newWav2LipModel(cfg Wav2LipConfig, runner script.Runner) wav2lipModel {
	dir := absPath(cfg.ModelDir)
	return wav2lipModel{
		python:     cfg.PythonBin,
		dir:        dir,
		script:     filepath.Join(dir, wav2lipScript),
		checkpoint: filepath.Join(dir, filepath.FromSlash(wav2lipCheckpoint)),
		runner:     runner,
	}
}

func (m wav2lipModel) check() error {
	if err := requireFile("infer.py", m.script); err != nil {
		return err
	}
	return requireFile("checkpoint", m.checkpoint)
}

// infer lip-syncs face to audio, writing outfile.
func (m wav2lipModel) infer(ctx context.Context, in Inputs, face, outfile string) error {
	cmd := script.Command{
		Name: m.python,
		Args: []string{
			m.script,
			"--checkpoint_path", m.checkpoint,
			"--face", face,
			"--audio", in.Audio,
			"--outfile", outfile,
		},
		Dir: m.dir,
	}

	return track(in, StepInference, func() error {
		if err := m.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInferenceFailed, err)
		}
		return requireOutput(outfile)
	})
}

// Wav2Lip lip-syncs a face video, or a still image turned into one, to an audio clip.
type Wav2Lip struct {
	model     wav2lipModel
	processor media.Processor
	paths     Paths
	fps       int
	duration  time.Duration
}

// NewWav2Lip creates the Wav2Lip engine.
func NewWav2Lip(cfg Wav2LipConfig, runner script.Runner, processor media.Processor, paths Paths) *Wav2Lip {
	return &Wav2Lip{
		model:     newWav2LipModel(cfg, runner),
		processor: processor,
		paths:     paths,
		fps:       cfg.FPS,
		duration:  cfg.Duration,
	}
}

// Kind implements Engine.
func (e *Wav2Lip) Kind() job.Engine { return job.EngineWav2Lip }

// CanonicalName implements Engine.
func (e *Wav2Lip) CanonicalName() string { return "video_sync.mp4" }

// SourceKinds implements Engine.
func (e *Wav2Lip) SourceKinds() []MediaClass { return []MediaClass{MediaVideo, MediaImage} }

// Check implements Engine.
func (e *Wav2Lip) Check() error { return e.model.check() }

// Generate muxes the audio into the face video and runs inference on the result.
func (e *Wav2Lip) Generate(ctx context.Context, in Inputs) (string, error) {
	face := in.Source
	if in.SourceClass == MediaImage {
		face = e.paths.TempPath(in.JobID + "_face.mp4")
		err := track(in, StepImageToVideo, func() error {
			return e.processor.ImageToVideo(ctx, in.Source, face, e.fps, e.duration)
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
	}

	merged := e.paths.TempPath(in.JobID + "_merged.mp4")
	err := track(in, StepMergeAudio, func() error {
		return e.processor.MergeAudioVideo(ctx, face, in.Audio, merged)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}

	out := e.paths.OutputPath(in.JobID + "_video_sync.mp4")
	if err := e.model.infer(ctx, in, merged, out); err != nil {
		return "", err
	}
	return out, nil
}

// Wav2LipSingleImage animates one still image with Wav2Lip.
type Wav2LipSingleImage struct {
	model     wav2lipModel
	processor media.Processor
	paths     Paths
	fps       int
	duration  time.Duration
}

// NewWav2LipSingleImage creates the single-image Wav2Lip engine.
func NewWav2LipSingleImage(cfg Wav2LipConfig, runner script.Runner, processor media.Processor, paths Paths) *Wav2LipSingleImage {
	return &Wav2LipSingleImage{
		model:     newWav2LipModel(cfg, runner),
		processor: processor,
		paths:     paths,
		fps:       cfg.FPS,
		duration:  cfg.Duration,
	}
}

// Kind implements Engine.
func (e *Wav2LipSingleImage) Kind() job.Engine { return job.EngineWav2LipSingleImage }

// CanonicalName implements Engine.
func (e *Wav2LipSingleImage) CanonicalName() string { return "single_image.mp4" }

// SourceKinds implements Engine.
func (e *Wav2LipSingleImage) SourceKinds() []MediaClass { return []MediaClass{MediaImage} }

// Check implements Engine.
func (e *Wav2LipSingleImage) Check() error { return e.model.check() }

// Generate loops the image into a silent clip and runs inference on it.
func (e *Wav2LipSingleImage) Generate(ctx context.Context, in Inputs) (string, error) {
	clip := e.paths.TempPath(in.JobID + "_temp.mp4")
	err := track(in, StepImageToVideo, func() error {
		return e.processor.ImageToVideo(ctx, in.Source, clip, e.fps, e.duration)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	out := e.paths.OutputPath(in.JobID + "_single_image.mp4")
	if err := e.model.infer(ctx, in, clip, out); err != nil {
		return "", err
	}
	return out, nil
}
