package archive

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// GCSBackend archives recordings into a Google Cloud Storage bucket.
// Adapted from the reference's internal/storage/gcs.go, which wired the
// same client for HTTP-read serving (Read/ReadSeeker/GetSignedURL); only
// the write-and-delete-local path survives here.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// NewGCSBackend creates a GCSBackend writing into bucket. projectID is
// accepted for parity with the reference's constructor signature and
// application-default-credential flows that key off it, though the
// storage client itself resolves the project from the bucket handle.
func NewGCSBackend(ctx context.Context, bucket, projectID string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create gcs client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

// Archive uploads localPath to gs://bucket/key and removes the local
// file once the upload is acknowledged.
func (b *GCSBackend) Archive(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open source: %w", err)
	}
	defer f.Close()

	obj := b.client.Bucket(b.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentTypeFor(key)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: upload to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: finalize gcs upload: %w", err)
	}

	if err := os.Remove(localPath); err != nil {
		log.WithError(err).WithField("path", localPath).Warn("archive: could not remove source after upload")
	}
	return nil
}

// Close releases the underlying GCS client.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func contentTypeFor(key string) string {
	switch {
	case hasSuffix(key, ".mp4"):
		return "video/mp4"
	case hasSuffix(key, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case hasSuffix(key, ".m4s"), hasSuffix(key, ".mp4v"):
		return "video/iso.segment"
	default:
		return "application/octet-stream"
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}
