package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/failure"
	"github.com/maauso/slideshow-api/internal/ingest"
	"github.com/maauso/slideshow-api/internal/job"
)

// Multipart field names. The aliases keep older clients working.
const (
	FieldImages          = "images"
	FieldImage           = "image"
	FieldBackground      = "bgMusic"
	FieldBackgroundAlias = "background_audio"
	FieldForeground      = "fgAudio"
	FieldForegroundAlias = "foreground_audio"
)

// maxFormMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const maxFormMemory = 32 << 20

// errBodyTooLarge is returned when a request exceeds the upload limit.
var errBodyTooLarge = errors.New("request body too large")

// newValidator returns a validator that reports fields by their form name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("form"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseSubmission reads a multipart request into a job submission. The
// returned cleanup removes spilled form files and must be called once the
// submission has been ingested.
func (h *Handlers) parseSubmission(w http.ResponseWriter, r *http.Request) (job.Submission, func(), error) {
	noop := func() {}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return job.Submission{}, noop, fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, h.maxUploadBytes)
		}
		return job.Submission{}, noop, failure.Validation("", "invalid multipart form: %v", err)
	}

	form := r.MultipartForm
	cleanup := func() {
		if err := form.RemoveAll(); err != nil {
			h.logger.Warn("failed to remove multipart files", "error", err)
		}
	}

	// The parsed form groups files by field name, so the order of a request
	// interleaving both image fields is lost.
	images := form.File[FieldImages]
	if legacy := form.File[FieldImage]; len(legacy) > 0 {
		if len(images) > 0 {
			cleanup()
			return job.Submission{}, noop, failure.Validation(FieldImages,
				"send images under either %q or %q, not both", FieldImages, FieldImage)
		}
		images = legacy
	}

	var sub job.Submission
	for i, fh := range images {
		sub.Images = append(sub.Images, ingest.FromFileHeader(fmt.Sprintf("images[%d]", i), fh))
	}
	sub.Background = firstUpload(form, FieldBackground, FieldBackgroundAlias)
	sub.Foreground = firstUpload(form, FieldForeground, FieldForegroundAlias)

	overrides, err := h.parseOverrides(form.Value)
	if err != nil {
		cleanup()
		return job.Submission{}, noop, err
	}
	sub.Overrides = overrides

	return sub, cleanup, nil
}

// firstUpload returns the first file sent under field or one of its
// aliases, reported under field.
func firstUpload(form *multipart.Form, field string, aliases ...string) *ingest.Upload {
	for _, name := range append([]string{field}, aliases...) {
		if files := form.File[name]; len(files) > 0 {
			up := ingest.FromFileHeader(field, files[0])
			return &up
		}
	}
	return nil
}

// parseOverrides decodes and validates the option fields.
func (h *Handlers) parseOverrides(values map[string][]string) (compose.Overrides, error) {
	var (
		f   ComposeForm
		err error
	)
	if f.Width, err = formField(values, "width", strconv.Atoi); err != nil {
		return compose.Overrides{}, err
	}
	if f.Height, err = formField(values, "height", strconv.Atoi); err != nil {
		return compose.Overrides{}, err
	}
	if f.FrameRate, err = formField(values, "frame_rate", strconv.Atoi); err != nil {
		return compose.Overrides{}, err
	}
	if f.ImageDuration, err = formField(values, "image_duration", parseFloat); err != nil {
		return compose.Overrides{}, err
	}
	if f.BackgroundVolume, err = formField(values, "background_volume", parseFloat); err != nil {
		return compose.Overrides{}, err
	}
	if f.ForegroundVolume, err = formField(values, "foreground_volume", parseFloat); err != nil {
		return compose.Overrides{}, err
	}
	if f.Shortest, err = formField(values, "shortest", strconv.ParseBool); err != nil {
		return compose.Overrides{}, err
	}

	if err := h.validator.Struct(f); err != nil {
		return compose.Overrides{}, validationFailure(err)
	}

	ov := compose.Overrides{
		Width:            f.Width,
		Height:           f.Height,
		FrameRate:        f.FrameRate,
		BackgroundVolume: f.BackgroundVolume,
		ForegroundVolume: f.ForegroundVolume,
		Shortest:         f.Shortest,
	}
	if f.ImageDuration != nil {
		d := time.Duration(*f.ImageDuration * float64(time.Second))
		ov.ImageDuration = &d
	}
	return ov, nil
}

// formField parses the first value of field. A missing or blank field
// yields nil.
func formField[T any](values map[string][]string, field string, parse func(string) (T, error)) (*T, error) {
	vs := values[field]
	if len(vs) == 0 {
		return nil, nil
	}
	raw := strings.TrimSpace(vs[0])
	if raw == "" {
		return nil, nil
	}
	v, err := parse(raw)
	if err != nil {
		return nil, failure.Validation(field, "invalid value %q", vs[0])
	}
	return &v, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// validationFailure converts the first validator error into a classified
// validation error naming the form field.
func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return failure.Validation("", "%v", err)
	}
	fe := verrs[0]
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return failure.Validation(fe.Field(), "must satisfy %s", rule)
}
