// Package server provides the HTTP transport for the slideshow service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ComposeForm holds the option fields of a multipart compose request.
// Nil fields keep the configured defaults.
type ComposeForm struct {
	// Width is the target video width.
	Width *int `form:"width" validate:"omitempty,min=2,max=4096"`
	// Height is the target video height.
	Height *int `form:"height" validate:"omitempty,min=2,max=4096"`
	// FrameRate is the output frame rate.
	FrameRate *int `form:"frame_rate" validate:"omitempty,min=1,max=120"`
	// ImageDuration is how long each image is shown, in seconds.
	ImageDuration *float64 `form:"image_duration" validate:"omitempty,gt=0,lte=3600"`
	// BackgroundVolume is the gain applied to the background track.
	BackgroundVolume *float64 `form:"background_volume" validate:"omitempty,gte=0,lte=4"`
	// ForegroundVolume is the gain applied to the foreground track.
	ForegroundVolume *float64 `form:"foreground_volume" validate:"omitempty,gte=0,lte=4"`
	// Shortest clamps the output to the shorter of the video and audio streams.
	Shortest *bool `form:"shortest"`
}

// CreateJobResponse is the HTTP response after submitting an asynchronous job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// State is the job state at the time of the response.
	State string `json:"state"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID            string  `json:"id"`
	State         string  `json:"state"`
	ImageCount    int     `json:"image_count"`
	HasBackground bool    `json:"has_background"`
	HasForeground bool    `json:"has_foreground"`
	Resolution    string  `json:"resolution,omitempty"`
	FrameRate     int     `json:"frame_rate,omitempty"`
	DurationSec   float64 `json:"duration_sec,omitempty"`
	Attempts      int     `json:"attempts"`

	// OutputDurationSec is the probed length of the rendered video.
	OutputDurationSec float64 `json:"output_duration_sec,omitempty"`

	// Code is the failure kind of a FAILED job.
	Code string `json:"code,omitempty"`
	// Field names the offending input of a validation failure.
	Field string `json:"field,omitempty"`
	// Error is the failure message of a FAILED job.
	Error string `json:"error,omitempty"`
	// Detail is the captured engine diagnostic.
	Detail string `json:"detail,omitempty"`

	// ArtifactURL is where the output video was delivered.
	ArtifactURL  string `json:"artifact_url,omitempty"`
	ArtifactSize int64  `json:"artifact_size,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Field names the offending request field, if any.
	Field string `json:"field,omitempty"`
	// Detail carries engine diagnostics, if any.
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
