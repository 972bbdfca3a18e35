// Package failure provides the classified error taxonomy used by every
// composition job. Callers branch on Kind instead of parsing message text.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies why a job failed.
type Kind string

const (
	// KindValidation indicates missing or malformed input. User-correctable.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindEngine indicates the codec engine exited with a nonzero status.
	KindEngine Kind = "ENGINE_ERROR"
	// KindEmptyOutput indicates the engine reported success but the output
	// file is missing or implausibly small.
	KindEmptyOutput Kind = "EMPTY_OUTPUT"
	// KindTimeout indicates the engine exceeded its wall-clock limit.
	KindTimeout Kind = "TIMEOUT"
	// KindInternal indicates resource exhaustion or workspace I/O failure.
	KindInternal Kind = "INTERNAL_ERROR"
	// KindBusy indicates the engine pool is full and the submission was rejected.
	KindBusy Kind = "BUSY"
)

// Error is a classified job error.
type Error struct {
	// Kind is the classification callers branch on.
	Kind Kind
	// Op is the operation that failed (e.g. "ingest.image").
	Op string
	// Message is the human-readable description.
	Message string
	// Field names the offending input for validation errors.
	Field string
	// Diagnostic carries captured engine output, verbatim.
	Diagnostic string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t != nil {
		return t.Kind == e.Kind && t.Op == "" && t.Message == ""
	}
	return false
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindEngine:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a single automatic retry is worthwhile.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout
}

// Sentinel targets for errors.Is comparisons by kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrEngine      = &Error{Kind: KindEngine}
	ErrEmptyOutput = &Error{Kind: KindEmptyOutput}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrInternal    = &Error{Kind: KindInternal}
	ErrBusy        = &Error{Kind: KindBusy}
)

// Validation reports a missing or malformed input field.
func Validation(field, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      "validate",
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Engine reports a nonzero engine exit along with its diagnostic output.
func Engine(op, diagnostic string, err error) *Error {
	return &Error{
		Kind:       KindEngine,
		Op:         op,
		Message:    "codec engine failed",
		Diagnostic: diagnostic,
		Err:        err,
	}
}

// EmptyOutput reports that the engine succeeded without a usable artifact.
func EmptyOutput(path string, size, minSize int64) *Error {
	msg := fmt.Sprintf("engine produced no output at %s", path)
	if size >= 0 {
		msg = fmt.Sprintf("engine output %s is %d bytes, below the %d byte minimum", path, size, minSize)
	}
	return &Error{
		Kind:    KindEmptyOutput,
		Op:      "render.verify",
		Message: msg,
	}
}

// Timeout reports that an operation exceeded limit.
func Timeout(op string, limit time.Duration, diagnostic string, err error) *Error {
	return &Error{
		Kind:       KindTimeout,
		Op:         op,
		Message:    fmt.Sprintf("exceeded %s", limit),
		Diagnostic: diagnostic,
		Err:        err,
	}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: "internal failure",
		Err:     err,
	}
}

// Busy reports that all engine slots are taken.
func Busy(limit int) *Error {
	return &Error{
		Kind:    KindBusy,
		Op:      "render.acquire",
		Message: fmt.Sprintf("too many concurrent jobs (limit %d)", limit),
	}
}

// As extracts a classified error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify returns err as a classified error, wrapping unclassified
// errors as internal failures of op. A nil err yields nil.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Internal(op, err)
}
