// Package audio provides audio preparation for the lip-sync models.
package audio

import "context"

// Wav2Lip and SadTalker both resample to 16 kHz mono internally.
const (
	// SampleRate is the sample rate of normalised audio.
	SampleRate = 16000
	// Channels is the channel count of normalised audio.
	Channels = 1
)

// Converter defines the interface for normalising uploaded audio.
type Converter interface {
	// ToWAV decodes src (any container ffmpeg understands) and writes
	// 16-bit PCM mono WAV at SampleRate to dst.
	ToWAV(ctx context.Context, src, dst string) error
}
