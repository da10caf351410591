// Package media provides the ffmpeg-backed video steps of the lip-sync pipelines.
package media

import (
	"context"
	"time"
)

// Processor defines the video preparation steps that run before model inference.
type Processor interface {
	// ImageToVideo loops a still image into a silent video of the given
	// duration at fps frames per second.
	ImageToVideo(ctx context.Context, imagePath, outputPath string, fps int, duration time.Duration) error

	// MergeAudioVideo muxes the audio stream of audioPath into the video
	// stream of videoPath, trimming to the shorter of the two.
	MergeAudioVideo(ctx context.Context, videoPath, audioPath, outputPath string) error
}
