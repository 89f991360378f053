// Package archive moves completed recordings to cold storage once the
// MP4 recorder rotates or stops them. Grounded in the
// reference's internal/storage package, whose Storage interface and
// Local/GCS backends were built for HTTP-read serving; here the same
// interface is kept but narrowed to the write-and-move path an archival
// job actually needs, since reading recordings back out is part of the
// out-of-scope HTTP surface.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "archive")

// Backend is a cold-storage destination for completed recording files.
type Backend interface {
	// Archive copies the file at localPath into the backend under key,
	// then removes the local copy on success.
	Archive(ctx context.Context, key, localPath string) error
	io.Closer
}

// LocalBackend archives by moving files into a separate on-disk
// directory tree, for deployments with no cloud storage configured.
type LocalBackend struct {
	baseDir string
}

// NewLocalBackend creates a LocalBackend rooted at baseDir.
func NewLocalBackend(baseDir string) *LocalBackend {
	return &LocalBackend{baseDir: baseDir}
}

// Archive copies localPath to baseDir/key and removes the source on
// success.
func (b *LocalBackend) Archive(ctx context.Context, key, localPath string) error {
	dest := filepath.Join(b.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("archive: create destination dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open source: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("archive: create destination: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("archive: copy to destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("archive: close destination: %w", err)
	}

	if err := os.Remove(localPath); err != nil {
		log.WithError(err).WithField("path", localPath).Warn("archive: could not remove source after copy")
	}
	return nil
}

// Close is a no-op for LocalBackend.
func (b *LocalBackend) Close() error { return nil }
