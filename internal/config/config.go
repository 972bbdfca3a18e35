// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidBusyPolicy is returned when BUSY_POLICY is not block or reject.
	ErrInvalidBusyPolicy = errors.New("config: BUSY_POLICY must be block or reject")
	// ErrInvalidTimeout is returned when RENDER_TIMEOUT is not positive.
	ErrInvalidTimeout = errors.New("config: RENDER_TIMEOUT must be positive")
	// ErrInvalidLimit is returned when a size or count limit is negative.
	ErrInvalidLimit = errors.New("config: limits must not be negative")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int    `env:"PORT, default=8080" json:"port"`
	MaxUploadMB        int64  `env:"MAX_UPLOAD_MB, default=256" json:"max_upload_mb"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`

	// Workspace settings
	TempDir string `env:"TEMP_DIR, default=/tmp/slideshow" json:"temp_dir"`

	// Engine settings
	FFmpegPath           string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath          string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	RenderTimeout        time.Duration `env:"RENDER_TIMEOUT, default=2m" json:"render_timeout"`
	RenderRetryOnTimeout bool          `env:"RENDER_RETRY_ON_TIMEOUT, default=true" json:"render_retry_on_timeout"`
	MaxConcurrentRenders int           `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`
	BusyPolicy           string        `env:"BUSY_POLICY, default=block" json:"busy_policy"` // "block" or "reject"
	MinOutputBytes       int64         `env:"MIN_OUTPUT_BYTES, default=1024" json:"min_output_bytes"`

	// Ingestion settings
	MaxImages              int  `env:"MAX_IMAGES, default=100" json:"max_images"`
	SniffUploads           bool `env:"SNIFF_UPLOADS, default=true" json:"sniff_uploads"`
	RequireBackgroundAudio bool `env:"REQUIRE_BACKGROUND_AUDIO, default=true" json:"require_background_audio"`

	// Composition defaults
	DefaultWidth            int           `env:"DEFAULT_WIDTH, default=1280" json:"default_width"`
	DefaultHeight           int           `env:"DEFAULT_HEIGHT, default=720" json:"default_height"`
	DefaultFrameRate        int           `env:"DEFAULT_FRAME_RATE, default=25" json:"default_frame_rate"`
	DefaultImageDuration    time.Duration `env:"DEFAULT_IMAGE_DURATION, default=5s" json:"default_image_duration"`
	DefaultBackgroundVolume float64       `env:"DEFAULT_BACKGROUND_VOLUME, default=0.5" json:"default_background_volume"`
	DefaultForegroundVolume float64       `env:"DEFAULT_FOREGROUND_VOLUME, default=1.0" json:"default_foreground_volume"`
	DefaultShortest         bool          `env:"DEFAULT_SHORTEST, default=true" json:"default_shortest"`
	VideoCodec              string        `env:"VIDEO_CODEC, default=libx264" json:"video_codec"`
	AudioCodec              string        `env:"AUDIO_CODEC, default=aac" json:"audio_codec"`

	// Artifact storage for asynchronous jobs
	ArtifactDir        string        `env:"ARTIFACT_DIR" json:"artifact_dir,omitempty"`
	S3Bucket           string        `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string        `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string        `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string        `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	JobRetention       time.Duration `env:"JOB_RETENTION, default=1h" json:"job_retention"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// StorageEnabled returns true if asynchronous jobs have somewhere to deliver.
func (c *Config) StorageEnabled() bool {
	return c.S3Enabled() || c.ArtifactDir != ""
}

// MaxUploadBytes returns the request body cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration from l and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
// Composition defaults are validated where they are applied.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	switch strings.ToLower(c.BusyPolicy) {
	case "block", "reject":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidBusyPolicy, c.BusyPolicy)
	}
	if c.RenderTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxConcurrentRenders < 0 || c.MaxImages < 0 || c.MinOutputBytes < 0 || c.MaxUploadMB < 0 {
		return ErrInvalidLimit
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FFmpegPath: %s, RenderTimeout: %s, MaxConcurrentRenders: %d, BusyPolicy: %s, MaxImages: %d, Default: %dx%d@%d/%s, ArtifactDir: %s, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.FFmpegPath,
		c.RenderTimeout,
		c.MaxConcurrentRenders,
		c.BusyPolicy,
		c.MaxImages,
		c.DefaultWidth,
		c.DefaultHeight,
		c.DefaultFrameRate,
		c.DefaultImageDuration,
		c.ArtifactDir,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
