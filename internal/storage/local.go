package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Static errors for storage operations.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidName is returned when a file name would escape its directory.
	ErrInvalidName = errors.New("invalid file name")
)

const (
	tempDirName    = "temp"
	outputsDirName = "outputs"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements the Storage interface using local disk.
// It does not support S3 operations unless wrapped with S3Storage.
type LocalStorage struct {
	workspace  string
	tempDir    string
	outputsDir string

	// publishMu serialises replacement of canonical outputs.
	publishMu sync.Mutex
}

// NewLocalStorage creates a new LocalStorage rooted at workspace.
// If workspace is empty, the current directory is used.
// temp/ and outputs/ are created if they don't exist.
func NewLocalStorage(workspace string) (*LocalStorage, error) {
	if workspace == "" {
		workspace = "."
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	s := &LocalStorage{
		workspace:  abs,
		tempDir:    filepath.Join(abs, tempDirName),
		outputsDir: filepath.Join(abs, outputsDirName),
	}

	for _, dir := range []string{s.tempDir, s.outputsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create workspace directory: %w", err)
		}
	}

	return s, nil
}

// Workspace returns the absolute workspace root.
func (s *LocalStorage) Workspace() string {
	return s.workspace
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// OutputsDir returns the outputs directory path.
func (s *LocalStorage) OutputsDir() string {
	return s.outputsDir
}

// TempPath returns the absolute path of name inside temp/.
func (s *LocalStorage) TempPath(name string) string {
	return filepath.Join(s.tempDir, name)
}

// OutputPath returns the absolute path of name inside outputs/.
func (s *LocalStorage) OutputPath(name string) string {
	return filepath.Join(s.outputsDir, name)
}

// SaveTemp writes data to temp/<name>, replacing any existing file.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := validateName(name); err != nil {
		return "", err
	}

	path := s.TempPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) // #nosec G304 - name is validated above
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return path, nil
}

// Publish replaces outputs/<canonicalName> with the contents of jobOutput.
// The new file is staged next to the canonical one and renamed over it, so
// readers of the canonical path see either the old or the new video.
func (s *LocalStorage) Publish(ctx context.Context, jobOutput, canonicalName string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := validateName(canonicalName); err != nil {
		return "", err
	}

	canonical := s.OutputPath(canonicalName)
	staged := fmt.Sprintf("%s.%d.partial", canonical, time.Now().UnixNano())

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if err := linkOrCopy(jobOutput, staged); err != nil {
		return "", fmt.Errorf("stage output: %w", err)
	}

	if err := os.Rename(staged, canonical); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("replace canonical output: %w", err)
	}

	return canonical, nil
}

// Expired lists entries of temp/ and outputs/ last modified before cutoff.
func (s *LocalStorage) Expired(ctx context.Context, cutoff time.Time, keep []string) ([]string, error) {
	protected := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		protected[name] = struct{}{}
	}

	var expired []string
	for _, dir := range []string{s.tempDir, s.outputsDir} {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}

		for _, e := range entries {
			if _, ok := protected[e.Name()]; ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				// Removed concurrently.
				continue
			}
			if info.ModTime().Before(cutoff) {
				expired = append(expired, filepath.Join(dir, e.Name()))
			}
		}
	}

	return expired, nil
}

// CleanupTemp removes the specified files and directories.
// It continues cleanup even if some entries fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.RemoveAll(p); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// validateName rejects names that are empty or contain path separators.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// linkOrCopy hard links src to dst, falling back to a byte copy when the
// filesystem refuses links (e.g. across devices).
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src) // #nosec G304 - src is a job output path built by the service
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
