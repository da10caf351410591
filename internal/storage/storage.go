// Package storage manages the on-disk workspace of the lip-sync pipelines and
// optional S3 delivery of finished videos.
//
// A workspace has two directories: temp/ for uploads and intermediate files,
// outputs/ for generated videos. Every file a job writes is prefixed with its
// job ID; outputs/ additionally holds one canonical file per endpoint that is
// replaced on every successful run.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the interface for workspace and S3 storage.
type Storage interface {
	// TempPath returns the absolute path of name inside temp/.
	TempPath(name string) string

	// OutputPath returns the absolute path of name inside outputs/.
	OutputPath(name string) string

	// SaveTemp writes data verbatim to temp/<name> and returns the file path.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Publish makes outputs/<canonicalName> a copy of jobOutput, replacing any
	// previous file atomically. jobOutput is left in place.
	Publish(ctx context.Context, jobOutput, canonicalName string) (path string, err error)

	// Expired lists workspace entries last modified before cutoff.
	// Entries whose base name is in keep are never returned.
	Expired(ctx context.Context, cutoff time.Time, keep []string) ([]string, error)

	// CleanupTemp removes the specified files or directories.
	// It continues cleanup even if some entries fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
