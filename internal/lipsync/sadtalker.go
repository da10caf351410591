package lipsync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/script"
)

// SadTalkerConfig holds the settings of the SadTalker engine.
type SadTalkerConfig struct {
	// PythonBin is the interpreter used to run the inference script.
	PythonBin string
	// Script is the path of inference_sadtalker.py. It runs from its own directory.
	Script string
}

// SadTalker animates a still image into a talking head.
type SadTalker struct {
	python string
	script string
	runner script.Runner
	paths  Paths
}

// NewSadTalker creates the SadTalker engine.
func NewSadTalker(cfg SadTalkerConfig, runner script.Runner, paths Paths) *SadTalker {
	return &SadTalker{
		python: cfg.PythonBin,
		script: absPath(cfg.Script),
		runner: runner,
		paths:  paths,
	}
}

// Kind implements Engine.
func (e *SadTalker) Kind() job.Engine { return job.EngineSadTalker }

// CanonicalName implements Engine.
func (e *SadTalker) CanonicalName() string { return "sadtalker_output.mp4" }

// SourceKinds implements Engine.
func (e *SadTalker) SourceKinds() []MediaClass { return []MediaClass{MediaImage} }

// Check implements Engine.
func (e *SadTalker) Check() error {
	return requireFile("inference script", e.script)
}

// Generate runs SadTalker into a job-specific result directory and moves the
// newest video it wrote into outputs/.
func (e *SadTalker) Generate(ctx context.Context, in Inputs) (string, error) {
	resultDir := e.paths.TempPath(in.JobID + "_sadtalker")
	if err := os.MkdirAll(resultDir, 0750); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}

	cmd := script.Command{
		Name: e.python,
		Args: []string{
			e.script,
			"--driven_audio", in.Audio,
			"--source_image", in.Source,
			"--result_dir", resultDir,
		},
		Dir: filepath.Dir(e.script),
	}

	out := e.paths.OutputPath(in.JobID + "_sadtalker_output.mp4")
	err := track(in, StepInference, func() error {
		if err := e.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInferenceFailed, err)
		}

		video, err := newestVideo(resultDir)
		if err != nil {
			return err
		}
		if err := os.Rename(video, out); err != nil {
			return fmt.Errorf("move result: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// newestVideo returns the most recently modified .mp4 below dir.
// SadTalker nests its result under a timestamped directory.
func newestVideo(dir string) (string, error) {
	var (
		newest   string
		newestAt time.Time
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest, newestAt = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}

	if newest == "" {
		return "", fmt.Errorf("%w: no .mp4 under %s", ErrOutputNotFound, dir)
	}
	return newest, nil
}
