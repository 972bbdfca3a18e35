// Package bootstrap provides dependency initialization for the slideshow service.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/config"
	"github.com/maauso/slideshow-api/internal/ingest"
	"github.com/maauso/slideshow-api/internal/job"
	"github.com/maauso/slideshow-api/internal/media"
	"github.com/maauso/slideshow-api/internal/metrics"
	"github.com/maauso/slideshow-api/internal/storage"
	"github.com/maauso/slideshow-api/internal/workspace"
)

// janitorInterval is how often finished job records are pruned.
const janitorInterval = time.Minute

// Dependencies holds all initialized dependencies for the server and CLI.
type Dependencies struct {
	Config      *config.Config
	Logger      *slog.Logger
	Workspaces  *workspace.Manager
	Executor    *media.FFmpegExecutor
	Jobs        *job.MemoryRepository
	Metrics     *metrics.Collector
	Coordinator *job.Coordinator
	// Storage receives artifacts of asynchronous jobs. Nil when neither S3
	// nor ARTIFACT_DIR is configured.
	Storage storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	workspaces, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	executor := media.NewFFmpegExecutor(cfg.FFmpegPath,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithTimeout(cfg.RenderTimeout),
		media.WithMinOutputSize(cfg.MinOutputBytes),
		media.WithLogger(logger),
	)

	collector := metrics.NewCollector()
	collector.WatchWorkspaces(workspaces.Active)

	repo := job.NewMemoryRepository()
	ingestor := ingest.New(logger, ingest.WithSniffing(cfg.SniffUploads))

	coordinator := job.NewCoordinator(workspaces, ingestor, executor, repo,
		CoordinatorConfig(cfg),
		job.WithMetrics(collector),
		job.WithProber(executor),
		job.WithLogger(logger),
	)

	return &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Workspaces:  workspaces,
		Executor:    executor,
		Jobs:        repo,
		Metrics:     collector,
		Coordinator: coordinator,
		Storage:     store,
	}, nil
}

// CoordinatorConfig maps the environment configuration onto the coordinator.
func CoordinatorConfig(cfg *config.Config) job.Config {
	return job.Config{
		Defaults:             CompositionDefaults(cfg),
		RenderTimeout:        cfg.RenderTimeout,
		RetryOnTimeout:       cfg.RenderRetryOnTimeout,
		MaxConcurrentRenders: cfg.MaxConcurrentRenders,
		BusyPolicy:           job.BusyPolicy(strings.ToLower(cfg.BusyPolicy)),
		MaxImages:            cfg.MaxImages,
		RequireBackground:    cfg.RequireBackgroundAudio,
	}
}

// CompositionDefaults returns the options applied to every job before its
// own overrides.
func CompositionDefaults(cfg *config.Config) compose.Options {
	opts := compose.DefaultOptions()
	opts.Resolution = compose.Resolution{Width: cfg.DefaultWidth, Height: cfg.DefaultHeight}
	opts.FrameRate = cfg.DefaultFrameRate
	opts.ImageDuration = cfg.DefaultImageDuration
	opts.BackgroundVolume = cfg.DefaultBackgroundVolume
	opts.ForegroundVolume = cfg.DefaultForegroundVolume
	opts.Shortest = cfg.DefaultShortest
	opts.VideoCodec = cfg.VideoCodec
	opts.AudioCodec = cfg.AudioCodec
	return opts
}

// StartBackground runs the job janitor until ctx is done.
func (d *Dependencies) StartBackground(ctx context.Context) {
	go job.RunJanitor(ctx, d.Jobs, d.Config.JobRetention, janitorInterval, d.Logger)
}

// Close waits for background jobs until ctx is done.
func (d *Dependencies) Close(ctx context.Context) error {
	return d.Coordinator.Shutdown(ctx)
}

// StoreArtifact uploads a rendered artifact to the durable store. It has the
// shape of a job.Deliverer.
func (d *Dependencies) StoreArtifact(ctx context.Context, jobID string, artifact media.Artifact) (string, error) {
	if d.Storage == nil {
		return "", storage.ErrNotConfigured
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := storage.ArtifactKey(jobID, filepath.Base(artifact.Path))
	url, err := d.Storage.Put(ctx, key, artifact.MIMEType, f)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return url, nil
}

// initStorage creates the artifact store based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	if cfg.ArtifactDir != "" {
		localStore, err := storage.NewLocalStorage(cfg.ArtifactDir)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
		logger.Info("local storage configured",
			slog.String("artifact_dir", cfg.ArtifactDir),
		)
		return localStore, nil
	}

	logger.Info("no artifact storage configured, asynchronous jobs disabled")
	return nil, nil
}
