// Package storage provides durable artifact stores for asynchronous jobs.
// It defines the Storage interface (port) and implementations for a local
// directory and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Static errors for storage operations.
var (
	// ErrNotConfigured is returned when no durable store is configured.
	ErrNotConfigured = errors.New("artifact storage is not configured")
	// ErrInvalidKey is returned for empty, absolute or escaping object keys.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Storage persists finished artifacts.
type Storage interface {
	// Put stores data under key and returns a URL where it can be fetched.
	Put(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// ArtifactKey returns the object key of a job's artifact.
func ArtifactKey(jobID, filename string) string {
	return path.Join("jobs", jobID, filename)
}

// cleanKey normalizes key and rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
