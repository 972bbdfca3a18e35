// Package id provides unique identifier generation for jobs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid>, using time-ordered UUIDv7 so IDs sort by creation.
// Example: job-01936b2e-6c1f-7c3a-9d55-3f6f0c8e2a41
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random UUID if the clock-based variant fails
		return "job-" + uuid.NewString()
	}
	return "job-" + u.String()
}

// Valid reports whether s has the shape of an ID returned by Generate.
func Valid(s string) bool {
	if len(s) <= len("job-") || s[:len("job-")] != "job-" {
		return false
	}
	_, err := uuid.Parse(s[len("job-"):])
	return err == nil
}
