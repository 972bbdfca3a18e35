// Package media runs the external codec engine for planned render graphs.
package media

import (
	"context"
	"time"

	"github.com/maauso/slideshow-api/internal/compose"
)

// MIMEType is the content type of rendered artifacts.
const MIMEType = "video/mp4"

// Artifact is a verified render output.
type Artifact struct {
	Path     string
	Size     int64
	MIMEType string
}

// Renderer executes render graphs.
type Renderer interface {
	// Render runs g writing to output, killing the engine after timeout.
	// A zero timeout uses the renderer's default. Errors are *failure.Error.
	Render(ctx context.Context, g compose.RenderGraph, output string, timeout time.Duration) (Artifact, error)
}

// Prober reads media metadata.
type Prober interface {
	// Duration returns the container duration of the file at path.
	Duration(ctx context.Context, path string) (time.Duration, error)
}
