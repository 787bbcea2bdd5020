// Package storage archives run reports in an S3 compatible object store.
package storage

import (
	"context"
	"io"
	"time"
)

// Provider is an object store for finished reports.
type Provider interface {
	// CheckBucket makes sure the report bucket exists, creating it if needed.
	CheckBucket(ctx context.Context) error

	// Upload stores size bytes of r under key and returns the full object key.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)

	// PresignedURL returns a temporary download link for an uploaded report.
	PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}
