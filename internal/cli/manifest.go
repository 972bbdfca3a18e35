package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/ingest"
	"github.com/maauso/slideshow-api/internal/job"
)

// Manifest describes one composition job in YAML:
//
//	images:
//	  - slides/01.png
//	  - slides/02.jpg
//	background: music/theme.mp3
//	foreground: voice.wav
//	output: out/slideshow.mp4
//	options:
//	  width: 1920
//	  height: 1080
//	  frame_rate: 30
//	  image_duration: 4s
//	  background_volume: 0.4
//	  shortest: true
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Images     []string        `yaml:"images"`
	Background string          `yaml:"background,omitempty"`
	Foreground string          `yaml:"foreground,omitempty"`
	Output     string          `yaml:"output,omitempty"`
	Options    ManifestOptions `yaml:"options,omitempty"`
}

// ManifestOptions are per-job overrides of the configured defaults.
type ManifestOptions struct {
	Width            *int           `yaml:"width,omitempty"`
	Height           *int           `yaml:"height,omitempty"`
	FrameRate        *int           `yaml:"frame_rate,omitempty"`
	ImageDuration    *time.Duration `yaml:"image_duration,omitempty"`
	BackgroundVolume *float64       `yaml:"background_volume,omitempty"`
	ForegroundVolume *float64       `yaml:"foreground_volume,omitempty"`
	Shortest         *bool          `yaml:"shortest,omitempty"`
}

// ErrEmptyManifest is returned for a manifest file without content.
var ErrEmptyManifest = errors.New("manifest is empty")

// LoadManifest reads a YAML manifest. Unknown keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path) // #nosec G304 - path is supplied by the local operator
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, ErrEmptyManifest)
		}
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	m.resolve(filepath.Dir(path))
	return &m, nil
}

func (m *Manifest) resolve(base string) {
	for i, p := range m.Images {
		m.Images[i] = resolvePath(base, p)
	}
	m.Background = resolvePath(base, m.Background)
	m.Foreground = resolvePath(base, m.Foreground)
	m.Output = resolvePath(base, m.Output)
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Overrides converts the manifest options to composition overrides.
func (m *Manifest) Overrides() compose.Overrides {
	o := m.Options
	return compose.Overrides{
		Width:            o.Width,
		Height:           o.Height,
		FrameRate:        o.FrameRate,
		ImageDuration:    o.ImageDuration,
		BackgroundVolume: o.BackgroundVolume,
		ForegroundVolume: o.ForegroundVolume,
		Shortest:         o.Shortest,
	}
}

// Submission returns the manifest as a job submission reading local files.
func (m *Manifest) Submission() job.Submission {
	sub := job.Submission{Overrides: m.Overrides()}
	for i, p := range m.Images {
		sub.Images = append(sub.Images, ingest.FromPath(fmt.Sprintf("images[%d]", i), p))
	}
	if m.Background != "" {
		bg := ingest.FromPath("bgMusic", m.Background)
		sub.Background = &bg
	}
	if m.Foreground != "" {
		fg := ingest.FromPath("fgAudio", m.Foreground)
		sub.Foreground = &fg
	}
	return sub
}

// Spec returns the manifest as a job spec over the given options without
// ingesting anything. Formats are taken from the file extensions.
func (m *Manifest) Spec(opts compose.Options) compose.JobSpec {
	spec := compose.JobSpec{Options: opts}
	for i, p := range m.Images {
		spec.Images = append(spec.Images, compose.ImageInput{Path: p, Ext: extOf(p), Ordinal: i})
	}
	if m.Background != "" {
		spec.Background = &compose.AudioInput{Path: m.Background, Ext: extOf(m.Background)}
	}
	if m.Foreground != "" {
		spec.Foreground = &compose.AudioInput{Path: m.Foreground, Ext: extOf(m.Foreground)}
	}
	return spec
}

func extOf(p string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
}
