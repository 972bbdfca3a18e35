package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/slideshow-api/internal/failure"
	"github.com/maauso/slideshow-api/internal/job"
	"github.com/maauso/slideshow-api/internal/media"
)

// maxDetailLen caps the engine diagnostic echoed in error responses.
const maxDetailLen = 4096

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	coordinator    *job.Coordinator
	deliver        job.Deliverer
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithArtifactDelivery enables POST /jobs. Artifacts of asynchronous jobs are
// handed to deliver, whose returned location becomes the job's artifact URL.
func WithArtifactDelivery(deliver job.Deliverer) HandlerOption {
	return func(h *Handlers) {
		h.deliver = deliver
	}
}

// WithMaxUploadBytes caps the size of multipart request bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		h.maxUploadBytes = n
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(coordinator *job.Coordinator, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		coordinator: coordinator,
		validator:   newValidator(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Compose handles POST /compose requests. The job runs within the request
// and the artifact is streamed back as the response body.
func (h *Handlers) Compose(w http.ResponseWriter, r *http.Request) {
	sub, cleanup, err := h.parseSubmission(w, r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	defer cleanup()

	streamed := false
	deliver := func(_ context.Context, jobID string, artifact media.Artifact) (string, error) {
		f, err := os.Open(artifact.Path)
		if err != nil {
			return "", fmt.Errorf("open artifact: %w", err)
		}
		defer f.Close()

		contentType := artifact.MIMEType
		if contentType == "" {
			contentType = media.MIMEType
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+job.OutputName+`"`)
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
		w.Header().Set("X-Job-ID", jobID)
		w.WriteHeader(http.StatusOK)
		streamed = true

		if _, err := io.Copy(w, f); err != nil {
			return "", fmt.Errorf("stream artifact: %w", err)
		}
		return "", nil
	}

	j, err := h.coordinator.Run(r.Context(), sub, deliver)
	if err == nil {
		return
	}
	if streamed {
		// Headers are gone; the client sees a truncated body.
		h.logger.Warn("artifact stream interrupted", slog.String("error", err.Error()))
		return
	}
	if j != nil {
		w.Header().Set("X-Job-ID", j.ID)
	}
	h.writeFailure(w, r, err)
}

// CreateJob handles POST /jobs requests. Assets are ingested within the
// request; planning, rendering and delivery continue in the background.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.deliver == nil {
		writeError(w, http.StatusNotImplemented, "asynchronous jobs require artifact storage", "NOT_IMPLEMENTED")
		return
	}

	sub, cleanup, err := h.parseSubmission(w, r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	defer cleanup()

	exec, err := h.coordinator.Prepare(r.Context(), sub)
	if err != nil {
		if exec != nil {
			w.Header().Set("X-Job-ID", exec.Job().ID)
		}
		h.writeFailure(w, r, err)
		return
	}

	snapshot := exec.Job()
	h.coordinator.Start(exec, h.deliver)

	h.logger.Info("job accepted",
		slog.String("job_id", snapshot.ID),
		slog.Int("images", snapshot.ImageCount),
	)

	w.Header().Set("Location", "/jobs/"+snapshot.ID)
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:    snapshot.ID,
		State: string(snapshot.State),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.coordinator.Repository().FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(found))
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:                j.ID,
		State:             string(j.State),
		ImageCount:        j.ImageCount,
		HasBackground:     j.HasBackground,
		HasForeground:     j.HasForeground,
		FrameRate:         j.FrameRate,
		DurationSec:       j.Duration.Seconds(),
		Attempts:          j.Attempts,
		OutputDurationSec: j.OutputDuration.Seconds(),
		Code:              string(j.FailureKind),
		Field:             j.FailureField,
		Error:             j.Error,
		Detail:            truncate(j.Diagnostic, maxDetailLen),
		ArtifactURL:       j.ArtifactURL,
		ArtifactSize:      j.ArtifactSize,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
	if j.Width > 0 && j.Height > 0 {
		resp.Resolution = fmt.Sprintf("%dx%d", j.Width, j.Height)
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeFailure maps err onto the standard error response.
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "PAYLOAD_TOO_LARGE")
		return
	}

	fe := failure.Classify("http", err)
	status := fe.HTTPStatus()
	if fe.Kind == failure.KindBusy {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(fe.Kind)),
			slog.String("error", fe.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{
		Error:  fe.Message,
		Code:   string(fe.Kind),
		Field:  fe.Field,
		Detail: truncate(fe.Diagnostic, maxDetailLen),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
