// Package ingest validates uploaded image and audio blobs and persists them
// into a job workspace under canonical names.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/slideshow-api/internal/failure"
)

// sniffLen is how many leading bytes are inspected for content detection.
const sniffLen = 3072

// Kind is the expected media kind of an upload.
type Kind string

const (
	// KindImage accepts jpg, jpeg and png.
	KindImage Kind = "image"
	// KindAudio accepts mp3, wav and aac.
	KindAudio Kind = "audio"
)

// Role distinguishes the audio tracks of a job.
type Role string

const (
	// RoleBackground is the background music track.
	RoleBackground Role = "background"
	// RoleForeground is the optional foreground track (e.g. narration).
	RoleForeground Role = "foreground"
)

// format describes an accepted extension and the content types it may hold.
type format struct {
	mimes []string
}

var formats = map[Kind]map[string]format{
	KindImage: {
		"jpg":  {mimes: []string{"image/jpeg"}},
		"jpeg": {mimes: []string{"image/jpeg"}},
		"png":  {mimes: []string{"image/png"}},
	},
	KindAudio: {
		"mp3": {mimes: []string{"audio/mpeg"}},
		"wav": {mimes: []string{"audio/wav"}},
		"aac": {mimes: []string{"audio/aac"}},
	},
}

// Sink is where ingested blobs are written. *workspace.Workspace implements it.
type Sink interface {
	Create(name string, data io.Reader) (path string, size int64, err error)
}

// Upload is a raw blob as delivered by a transport.
type Upload struct {
	// Field is the request field the blob arrived in; used in error messages.
	Field string
	// Filename is the client-declared file name; its extension declares the format.
	Filename string
	// Open returns a reader over the blob. It may be called once.
	Open func() (io.ReadCloser, error)
}

// FromFileHeader adapts a multipart file part.
func FromFileHeader(field string, fh *multipart.FileHeader) Upload {
	return Upload{
		Field:    field,
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// FromPath adapts a local file.
func FromPath(field, path string) Upload {
	return Upload{
		Field:    field,
		Filename: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) // #nosec G304 - path is supplied by the local operator
		},
	}
}

// FromBytes adapts an in-memory blob.
func FromBytes(field, filename string, data []byte) Upload {
	return Upload{
		Field:    field,
		Filename: filename,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Asset is an ingested blob inside the workspace.
type Asset struct {
	Kind    Kind
	Field   string
	Path    string
	Ext     string
	MIME    string
	Size    int64
	Ordinal int
}

// Ingestor validates and persists uploads.
type Ingestor struct {
	sniff  bool
	logger *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSniffing enables or disables content detection against the declared
// extension. Enabled by default.
func WithSniffing(enabled bool) Option {
	return func(i *Ingestor) {
		i.sniff = enabled
	}
}

// New creates an Ingestor.
func New(logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingestor{sniff: true, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Image ingests the image at position ordinal as image_NNN.<ext>.
func (i *Ingestor) Image(ctx context.Context, sink Sink, up Upload, ordinal int) (Asset, error) {
	a, err := i.ingest(ctx, sink, up, KindImage, fmt.Sprintf("image_%03d", ordinal))
	if err != nil {
		return Asset{}, err
	}
	a.Ordinal = ordinal
	return a, nil
}

// Audio ingests an audio track as <role>.<ext>.
func (i *Ingestor) Audio(ctx context.Context, sink Sink, up Upload, role Role) (Asset, error) {
	return i.ingest(ctx, sink, up, KindAudio, string(role))
}

func (i *Ingestor) ingest(ctx context.Context, sink Sink, up Upload, kind Kind, base string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, failure.Internal("ingest", fmt.Errorf("context cancelled: %w", err))
	}

	field := up.Field
	if field == "" {
		field = string(kind)
	}
	if up.Open == nil {
		return Asset{}, failure.Validation(field, "%s upload is missing", kind)
	}

	ext, err := extensionOf(up.Filename, kind)
	if err != nil {
		return Asset{}, failure.Validation(field, "%v", err)
	}

	rc, err := up.Open()
	if err != nil {
		return Asset{}, failure.Validation(field, "cannot read upload: %v", err)
	}
	defer func() { _ = rc.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Asset{}, failure.Validation(field, "cannot read upload: %v", err)
	}
	head = head[:n]
	if n == 0 {
		return Asset{}, failure.Validation(field, "%s upload is empty", kind)
	}

	detected := mimetype.Detect(head)
	if i.sniff && !matches(detected, formats[kind][ext].mimes) {
		return Asset{}, failure.Validation(field, "content looks like %s, not a .%s %s", detected.String(), ext, kind)
	}

	name := base + "." + ext
	path, size, err := sink.Create(name, io.MultiReader(bytes.NewReader(head), rc))
	if err != nil {
		return Asset{}, failure.Internal("ingest.write", err)
	}

	i.logger.Debug("asset ingested",
		slog.String("field", field),
		slog.String("path", path),
		slog.Int64("size", size),
		slog.String("mime", detected.String()),
	)

	return Asset{
		Kind:  kind,
		Field: field,
		Path:  path,
		Ext:   ext,
		MIME:  detected.String(),
		Size:  size,
	}, nil
}

// extensionOf returns the lower-cased extension of filename if kind accepts it.
func extensionOf(filename string, kind Kind) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", fmt.Errorf("file %q has no extension", filename)
	}
	if _, ok := formats[kind][ext]; !ok {
		return "", fmt.Errorf("unsupported %s extension %q (accepted: %s)", kind, ext, strings.Join(Extensions(kind), ", "))
	}
	return ext, nil
}

// Extensions lists the accepted extensions for kind in a stable order.
func Extensions(kind Kind) []string {
	switch kind {
	case KindImage:
		return []string{"jpg", "jpeg", "png"}
	case KindAudio:
		return []string{"mp3", "wav", "aac"}
	default:
		return nil
	}
}

func matches(m *mimetype.MIME, accepted []string) bool {
	for _, want := range accepted {
		if m.Is(want) {
			return true
		}
	}
	return false
}
