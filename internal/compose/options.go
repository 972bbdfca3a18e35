// Package compose describes slideshow jobs and plans them into render graphs.
package compose

import (
	"fmt"
	"math"
	"time"

	"github.com/maauso/slideshow-api/internal/failure"
)

// Limits accepted by JobSpec.Validate.
const (
	MaxDimension = 4096
	MaxFrameRate = 120
	MaxVolume    = 4.0
)

// Resolution is a target frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// String returns the resolution as WxH.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Options are the tunable parameters of a composition.
type Options struct {
	Resolution       Resolution
	FrameRate        int
	ImageDuration    time.Duration
	BackgroundVolume float64
	ForegroundVolume float64
	Shortest         bool
	VideoCodec       string
	AudioCodec       string
	PixelFormat      string
}

// DefaultOptions returns 1280x720 at 25 fps, five seconds per image, and a
// 0.5/1.0 background/foreground mix encoded as H.264/AAC.
func DefaultOptions() Options {
	return Options{
		Resolution:       Resolution{Width: 1280, Height: 720},
		FrameRate:        25,
		ImageDuration:    5 * time.Second,
		BackgroundVolume: 0.5,
		ForegroundVolume: 1.0,
		Shortest:         true,
		VideoCodec:       "libx264",
		AudioCodec:       "aac",
		PixelFormat:      "yuv420p",
	}
}

// Overrides are per-job option changes. Nil fields keep the base value.
type Overrides struct {
	Width            *int
	Height           *int
	FrameRate        *int
	ImageDuration    *time.Duration
	BackgroundVolume *float64
	ForegroundVolume *float64
	Shortest         *bool
}

// Apply returns a copy of o with the non-nil overrides applied.
func (o Options) Apply(ov Overrides) Options {
	if ov.Width != nil {
		o.Resolution.Width = *ov.Width
	}
	if ov.Height != nil {
		o.Resolution.Height = *ov.Height
	}
	if ov.FrameRate != nil {
		o.FrameRate = *ov.FrameRate
	}
	if ov.ImageDuration != nil {
		o.ImageDuration = *ov.ImageDuration
	}
	if ov.BackgroundVolume != nil {
		o.BackgroundVolume = *ov.BackgroundVolume
	}
	if ov.ForegroundVolume != nil {
		o.ForegroundVolume = *ov.ForegroundVolume
	}
	if ov.Shortest != nil {
		o.Shortest = *ov.Shortest
	}
	return o
}

// Validate checks the options, naming the offending field on failure.
func (o Options) Validate() error {
	w, h := o.Resolution.Width, o.Resolution.Height
	switch {
	case w <= 0 || h <= 0:
		return failure.Validation("resolution", "must be positive, got %s", o.Resolution)
	case w > MaxDimension || h > MaxDimension:
		return failure.Validation("resolution", "must not exceed %d pixels per side, got %s", MaxDimension, o.Resolution)
	case w%2 != 0 || h%2 != 0:
		return failure.Validation("resolution", "dimensions must be even, got %s", o.Resolution)
	}
	if o.FrameRate < 1 || o.FrameRate > MaxFrameRate {
		return failure.Validation("frame_rate", "must be between 1 and %d, got %d", MaxFrameRate, o.FrameRate)
	}
	if o.ImageDuration <= 0 {
		return failure.Validation("image_duration", "must be greater than zero, got %s", o.ImageDuration)
	}
	if o.FramesPerImage() < 1 {
		return failure.Validation("image_duration", "%s is shorter than one frame at %d fps", o.ImageDuration, o.FrameRate)
	}
	if !validVolume(o.BackgroundVolume) {
		return failure.Validation("background_volume", "must be between 0 and %.1f, got %v", MaxVolume, o.BackgroundVolume)
	}
	if !validVolume(o.ForegroundVolume) {
		return failure.Validation("foreground_volume", "must be between 0 and %.1f, got %v", MaxVolume, o.ForegroundVolume)
	}
	if o.VideoCodec == "" || o.AudioCodec == "" {
		return failure.Validation("codec", "video and audio codecs are required")
	}
	return nil
}

// FramesPerImage is the number of frames each image is held for.
func (o Options) FramesPerImage() int {
	return int(math.Round(float64(o.FrameRate) * o.ImageDuration.Seconds()))
}

func validVolume(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= MaxVolume
}

// ImageInput is an ingested image and its position in the slideshow.
type ImageInput struct {
	Path    string
	Ext     string
	Ordinal int
}

// AudioInput is an ingested audio track.
type AudioInput struct {
	Path string
	Ext  string
}

// JobSpec is everything needed to plan one composition.
type JobSpec struct {
	// Images are played in slice order.
	Images     []ImageInput
	Background *AudioInput
	Foreground *AudioInput
	Options    Options
}

// Validate checks the spec before planning.
func (s JobSpec) Validate() error {
	if len(s.Images) == 0 {
		return failure.Validation("images", "at least one image is required")
	}
	for i, img := range s.Images {
		if img.Path == "" {
			return failure.Validation(fmt.Sprintf("images[%d]", i), "path is empty")
		}
	}
	if s.Background != nil && s.Background.Path == "" {
		return failure.Validation("background_audio", "path is empty")
	}
	if s.Foreground != nil && s.Foreground.Path == "" {
		return failure.Validation("foreground_audio", "path is empty")
	}
	return s.Options.Validate()
}

// TotalDuration is the declared output length. It counts whole frames, so an
// ImageDuration that is not a multiple of the frame interval is rounded the
// same way the planner rounds each slide.
func (s JobSpec) TotalDuration() time.Duration {
	if s.Options.FrameRate <= 0 {
		return time.Duration(len(s.Images)) * s.Options.ImageDuration
	}
	frames := time.Duration(len(s.Images) * s.Options.FramesPerImage())
	return frames * time.Second / time.Duration(s.Options.FrameRate)
}
