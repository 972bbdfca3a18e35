// Package job provides the Job aggregate for slideshow composition jobs, the
// Coordinator that drives a job through its state machine, and repository
// interfaces for the job registry.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/failure"
	"github.com/maauso/slideshow-api/internal/job/id"
)

// State represents the current state of a Job.
type State string

const (
	// StateIdle indicates the job was created but not yet submitted.
	StateIdle State = "IDLE"
	// StateIngesting indicates uploads are being validated and written to the workspace.
	StateIngesting State = "INGESTING"
	// StatePlanning indicates the render graph is being built.
	StatePlanning State = "PLANNING"
	// StateRendering indicates the codec engine is running.
	StateRendering State = "RENDERING"
	// StateSucceeded indicates the artifact was produced and delivered.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed indicates the job ended with a classified failure.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StateIdle:      {StateIngesting, StateFailed},
	StateIngesting: {StatePlanning, StateFailed},
	StatePlanning:  {StateRendering, StateFailed},
	StateRendering: {StateSucceeded, StateFailed},
	StateSucceeded: {},
	StateFailed:    {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a slideshow composition job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// State is the current job state.
	State State
	// ImageCount is the number of images in the slideshow.
	ImageCount int
	// HasBackground and HasForeground record which audio tracks were supplied.
	HasBackground bool
	HasForeground bool
	// Width, Height and FrameRate are the resolved output parameters.
	Width     int
	Height    int
	FrameRate int
	// Duration is the declared output duration.
	Duration time.Duration
	// OutputDuration is the probed duration of the rendered artifact.
	OutputDuration time.Duration
	// Attempts counts engine runs, including a timeout retry.
	Attempts int
	// FailureKind classifies the failure of a FAILED job.
	FailureKind failure.Kind
	// FailureField names the offending input of a validation failure.
	FailureField string
	// Error contains the failure message if the job failed.
	Error string
	// Diagnostic carries captured engine output of a failed render.
	Diagnostic string
	// ArtifactURL is where the artifact was delivered, if it has a durable location.
	ArtifactURL string
	// ArtifactSize is the artifact size in bytes.
	ArtifactSize int64
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when ingestion started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in the IDLE state.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID in the IDLE state.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(state State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(state)
}

func (j *Job) transitionLocked(state State) error {
	if !canTransition(j.State, state) {
		return ErrInvalidTransition
	}

	j.State = state
	j.UpdatedAt = time.Now()

	switch state {
	case StateIngesting:
		j.StartedAt = j.UpdatedAt
	case StateSucceeded, StateFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// SetSpec records the resolved parameters of the job.
func (j *Job) SetSpec(spec compose.JobSpec) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ImageCount = len(spec.Images)
	j.HasBackground = spec.Background != nil
	j.HasForeground = spec.Foreground != nil
	j.Width = spec.Options.Resolution.Width
	j.Height = spec.Options.Resolution.Height
	j.FrameRate = spec.Options.FrameRate
	j.Duration = spec.TotalDuration()
	j.UpdatedAt = time.Now()
}

// SetOutputDuration records the probed artifact duration.
func (j *Job) SetOutputDuration(d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputDuration = d
	j.UpdatedAt = time.Now()
}

// RecordAttempt increments the engine attempt counter.
func (j *Job) RecordAttempt() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempts++
	j.UpdatedAt = time.Now()
}

// Succeed transitions the job to SUCCEEDED with its delivered artifact.
func (j *Job) Succeed(artifactURL string, size int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateSucceeded); err != nil {
		return err
	}
	j.ArtifactURL = artifactURL
	j.ArtifactSize = size
	return nil
}

// Fail transitions the job to FAILED, recording the classification of err.
func (j *Job) Fail(err error) error {
	fe := failure.Classify("job", err)
	if fe == nil {
		fe = failure.Internal("job", errors.New("failed without a cause"))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateFailed); err != nil {
		return err
	}
	j.FailureKind = fe.Kind
	j.FailureField = fe.Field
	j.Error = fe.Error()
	j.Diagnostic = fe.Diagnostic
	return nil
}

// GetState returns the current job state (thread-safe).
func (j *Job) GetState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State == StateSucceeded || j.State == StateFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:             j.ID,
		State:          j.State,
		ImageCount:     j.ImageCount,
		HasBackground:  j.HasBackground,
		HasForeground:  j.HasForeground,
		Width:          j.Width,
		Height:         j.Height,
		FrameRate:      j.FrameRate,
		Duration:       j.Duration,
		Attempts:       j.Attempts,
		OutputDuration: j.OutputDuration,
		FailureKind:    j.FailureKind,
		FailureField:   j.FailureField,
		Error:          j.Error,
		Diagnostic:     j.Diagnostic,
		ArtifactURL:    j.ArtifactURL,
		ArtifactSize:   j.ArtifactSize,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
