package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/failure"
	"github.com/maauso/slideshow-api/internal/ingest"
	"github.com/maauso/slideshow-api/internal/media"
	"github.com/maauso/slideshow-api/internal/metrics"
	"github.com/maauso/slideshow-api/internal/workspace"
)

// OutputName is the artifact file name inside a workspace.
const OutputName = "output.mp4"

// BusyPolicy decides what happens when every render slot is taken.
type BusyPolicy string

const (
	// BusyBlock waits for a free slot.
	BusyBlock BusyPolicy = "block"
	// BusyReject fails the job with a BUSY error.
	BusyReject BusyPolicy = "reject"
)

// Config tunes the Coordinator.
type Config struct {
	// Defaults are the options applied before per-job overrides.
	Defaults compose.Options
	// RenderTimeout is the engine limit for the first attempt. Zero uses the
	// renderer's own default.
	RenderTimeout time.Duration
	// RetryOnTimeout allows one retry with twice the timeout.
	RetryOnTimeout bool
	// MaxConcurrentRenders caps engine processes. Zero means unbounded.
	MaxConcurrentRenders int
	// BusyPolicy applies when MaxConcurrentRenders is reached.
	BusyPolicy BusyPolicy
	// MaxImages caps images per job. Zero means unbounded.
	MaxImages int
	// RequireBackground rejects submissions without background audio.
	RequireBackground bool
	// IngestConcurrency caps parallel uploads written per job.
	IngestConcurrency int
}

// Submission is a job request as delivered by a transport.
type Submission struct {
	// Images are played in slice order.
	Images     []ingest.Upload
	Background *ingest.Upload
	Foreground *ingest.Upload
	Overrides  compose.Overrides
}

// Deliverer hands a verified artifact to its consumer and returns the
// location it was delivered to, if durable. The workspace holding the
// artifact is released only after the Deliverer returns.
type Deliverer func(ctx context.Context, jobID string, artifact media.Artifact) (location string, err error)

// Coordinator drives jobs from submission to a terminal state.
// It is safe for concurrent use; jobs share nothing but the workspace name
// generator and the render slots.
type Coordinator struct {
	workspaces *workspace.Manager
	ingestor   *ingest.Ingestor
	renderer   media.Renderer
	prober     media.Prober
	repo       Repository
	metrics    *metrics.Collector
	limiter    *semaphore.Weighted
	cfg        Config
	logger     *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records job metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithProber records the probed duration of every artifact on its job.
func WithProber(p media.Prober) Option {
	return func(c *Coordinator) {
		c.prober = p
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(ws *workspace.Manager, ing *ingest.Ingestor, renderer media.Renderer, repo Repository, cfg Config, opts ...Option) *Coordinator {
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = 4
	}
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = BusyBlock
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}

	c := &Coordinator{
		workspaces: ws,
		ingestor:   ing,
		renderer:   renderer,
		repo:       repo,
		cfg:        cfg,
		logger:     slog.Default(),
	}
	if cfg.MaxConcurrentRenders > 0 {
		c.limiter = semaphore.NewWeighted(int64(cfg.MaxConcurrentRenders))
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repository returns the job registry.
func (c *Coordinator) Repository() Repository {
	return c.repo
}

// Defaults returns the default composition options.
func (c *Coordinator) Defaults() compose.Options {
	return c.cfg.Defaults
}

// Execution is a job whose assets have been ingested and which still owns
// its workspace. Complete or Discard must be called exactly once.
type Execution struct {
	c      *Coordinator
	job    *Job
	ws     *workspace.Workspace
	spec   compose.JobSpec
	logger *slog.Logger

	releaseOnce sync.Once
}

// Job returns a snapshot of the job.
func (e *Execution) Job() *Job {
	return e.job.Clone()
}

// Spec returns the ingested job spec.
func (e *Execution) Spec() compose.JobSpec {
	return e.spec
}

// Run ingests, plans, renders and delivers one job.
func (c *Coordinator) Run(ctx context.Context, sub Submission, deliver Deliverer) (*Job, error) {
	exec, err := c.Prepare(ctx, sub)
	if err != nil {
		return exec.jobOrNil(), err
	}
	return exec.Complete(ctx, deliver)
}

// Prepare acquires a workspace and ingests the submission. On failure the job
// is FAILED, its workspace released, and the returned Execution only carries
// the job snapshot.
func (c *Coordinator) Prepare(ctx context.Context, sub Submission) (*Execution, error) {
	j := New()
	e := &Execution{c: c, job: j, logger: c.logger.With(slog.String("job_id", j.ID))}
	c.metrics.JobSubmitted()
	c.save(ctx, e)

	ws, err := c.workspaces.Acquire(ctx)
	if err != nil {
		return e, e.fail(ctx, failure.Internal("workspace.acquire", err))
	}
	e.ws = ws

	if err := e.advance(ctx, StateIngesting); err != nil {
		return e, e.fail(ctx, err)
	}
	e.logger.Info("job started",
		slog.String("workspace", ws.Name()),
		slog.Int("images", len(sub.Images)),
		slog.Bool("background", sub.Background != nil),
		slog.Bool("foreground", sub.Foreground != nil),
	)

	spec, err := c.ingest(ctx, ws, sub)
	if err != nil {
		return e, e.fail(ctx, err)
	}
	e.spec = spec
	j.SetSpec(spec)
	c.save(ctx, e)

	return e, nil
}

func (c *Coordinator) ingest(ctx context.Context, ws *workspace.Workspace, sub Submission) (compose.JobSpec, error) {
	if len(sub.Images) == 0 {
		return compose.JobSpec{}, failure.Validation("images", "at least one image is required")
	}
	if c.cfg.MaxImages > 0 && len(sub.Images) > c.cfg.MaxImages {
		return compose.JobSpec{}, failure.Validation("images", "at most %d images are allowed, got %d", c.cfg.MaxImages, len(sub.Images))
	}
	if c.cfg.RequireBackground && sub.Background == nil {
		return compose.JobSpec{}, failure.Validation("bgMusic", "background audio is required")
	}

	opts := c.cfg.Defaults.Apply(sub.Overrides)
	if err := opts.Validate(); err != nil {
		return compose.JobSpec{}, err
	}

	images := make([]compose.ImageInput, len(sub.Images))
	var background, foreground *compose.AudioInput

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.IngestConcurrency)

	for i, up := range sub.Images {
		g.Go(func() error {
			a, err := c.ingestor.Image(gctx, ws, up, i)
			if err != nil {
				return err
			}
			images[i] = compose.ImageInput{Path: a.Path, Ext: a.Ext, Ordinal: a.Ordinal}
			return nil
		})
	}
	if sub.Background != nil {
		g.Go(func() error {
			a, err := c.ingestor.Audio(gctx, ws, *sub.Background, ingest.RoleBackground)
			if err != nil {
				return err
			}
			background = &compose.AudioInput{Path: a.Path, Ext: a.Ext}
			return nil
		})
	}
	if sub.Foreground != nil {
		g.Go(func() error {
			a, err := c.ingestor.Audio(gctx, ws, *sub.Foreground, ingest.RoleForeground)
			if err != nil {
				return err
			}
			foreground = &compose.AudioInput{Path: a.Path, Ext: a.Ext}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return compose.JobSpec{}, err
	}

	return compose.JobSpec{
		Images:     images,
		Background: background,
		Foreground: foreground,
		Options:    opts,
	}, nil
}

// Complete plans, renders and delivers a prepared job, then releases its
// workspace. The returned job is a terminal snapshot. A panic in any stage
// fails the job with an internal error.
func (e *Execution) Complete(ctx context.Context, deliver Deliverer) (j *Job, err error) {
	if e.ws == nil || e.job.IsTerminal() {
		return e.job.Clone(), failure.Internal("job.complete", ErrInvalidTransition)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = e.fail(ctx, failure.Internal("job.complete", fmt.Errorf("panic: %v", r)))
			j = e.job.Clone()
		}
	}()

	if cerr := e.complete(ctx, deliver); cerr != nil {
		fe := e.fail(ctx, cerr)
		return e.job.Clone(), fe
	}
	return e.job.Clone(), nil
}

func (e *Execution) complete(ctx context.Context, deliver Deliverer) error {
	c := e.c

	if err := e.advance(ctx, StatePlanning); err != nil {
		return err
	}
	graph, err := compose.Plan(e.spec)
	if err != nil {
		return err
	}
	e.logger.Debug("render planned", slog.Int("ops", graph.Len()), slog.Duration("duration", e.spec.TotalDuration()))

	if err := e.advance(ctx, StateRendering); err != nil {
		return err
	}
	artifact, err := c.render(ctx, e, graph)
	if err != nil {
		return err
	}

	if c.prober != nil {
		if d, err := c.prober.Duration(ctx, artifact.Path); err != nil {
			e.logger.Warn("failed to probe artifact", slog.String("error", err.Error()))
		} else {
			e.job.SetOutputDuration(d)
		}
	}

	location := ""
	if deliver != nil {
		location, err = deliver(ctx, e.job.ID, artifact)
		if err != nil {
			return failure.Classify("deliver", err)
		}
	}

	if err := e.job.Succeed(location, artifact.Size); err != nil {
		return failure.Internal("job.succeed", err)
	}
	c.save(ctx, e)
	e.release()
	c.metrics.JobSucceeded()

	e.logger.Info("job succeeded",
		slog.Int64("size", artifact.Size),
		slog.String("location", location),
	)
	return nil
}

// Discard fails a prepared job with cause and releases its workspace.
func (e *Execution) Discard(ctx context.Context, cause error) *Job {
	if !e.job.IsTerminal() {
		_ = e.fail(ctx, failure.Classify("job.discard", cause))
	}
	return e.job.Clone()
}

// render runs the engine inside a render slot, retrying a timeout once with
// twice the limit when configured.
func (c *Coordinator) render(ctx context.Context, e *Execution, g compose.RenderGraph) (media.Artifact, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return media.Artifact{}, err
	}
	defer release()

	output := e.ws.Path(OutputName)
	timeout := c.renderTimeout()

	artifact, err := c.attempt(ctx, e, g, output, timeout)
	if err == nil || !c.cfg.RetryOnTimeout || !failure.IsKind(err, failure.KindTimeout) || ctx.Err() != nil {
		return artifact, err
	}

	timeout *= 2

	e.logger.Warn("render timed out, retrying", slog.Duration("timeout", timeout))
	c.metrics.RenderRetried()
	if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return media.Artifact{}, failure.Internal("render.retry", rmErr)
	}
	return c.attempt(ctx, e, g, output, timeout)
}

// renderTimeout is the limit for a first attempt: the configured one, else
// the renderer's own default, else media.DefaultTimeout.
func (c *Coordinator) renderTimeout() time.Duration {
	if c.cfg.RenderTimeout > 0 {
		return c.cfg.RenderTimeout
	}
	if t, ok := c.renderer.(interface{ Timeout() time.Duration }); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return media.DefaultTimeout
}

func (c *Coordinator) attempt(ctx context.Context, e *Execution, g compose.RenderGraph, output string, timeout time.Duration) (media.Artifact, error) {
	e.job.RecordAttempt()
	done := c.metrics.RenderStarted()
	result := string(failure.KindInternal)
	defer func() { done(result) }()

	artifact, err := c.renderer.Render(ctx, g, output, timeout)
	if err != nil {
		result = string(failure.KindOf(err))
		return media.Artifact{}, failure.Classify("render", err)
	}
	result = "success"
	return artifact, nil
}

// acquireSlot takes a render slot according to the busy policy.
func (c *Coordinator) acquireSlot(ctx context.Context) (func(), error) {
	if c.limiter == nil {
		return func() {}, nil
	}

	if c.cfg.BusyPolicy == BusyReject {
		if !c.limiter.TryAcquire(1) {
			return nil, failure.Busy(c.cfg.MaxConcurrentRenders)
		}
	} else if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, failure.Internal("render.acquire", fmt.Errorf("context cancelled: %w", err))
	}

	return func() { c.limiter.Release(1) }, nil
}

// Start completes e in the background, bound to the coordinator's lifetime
// rather than the submitting request.
func (c *Coordinator) Start(e *Execution, deliver Deliverer) {
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		_, _ = e.Complete(c.bgCtx, deliver)
	}()
}

// Shutdown waits for background jobs until ctx is done, then cancels the
// remaining ones and waits for their workspaces to be released.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.bgCancel()
		return nil
	case <-ctx.Done():
		c.bgCancel()
		<-done
		return fmt.Errorf("background jobs cancelled: %w", ctx.Err())
	}
}

// advance moves the job to state and saves the snapshot.
func (e *Execution) advance(ctx context.Context, state State) error {
	if err := e.job.TransitionTo(state); err != nil {
		return failure.Internal("job.transition", fmt.Errorf("%s -> %s: %w", e.job.GetState(), state, err))
	}
	e.c.save(ctx, e)
	return nil
}

// fail moves the job to FAILED, releases its workspace and returns the
// classified error.
func (e *Execution) fail(ctx context.Context, err error) error {
	fe := failure.Classify("job", err)

	if tErr := e.job.Fail(fe); tErr != nil {
		e.logger.Error("failed to mark job as failed", slog.String("error", tErr.Error()))
	}
	e.c.save(ctx, e)
	e.release()
	e.c.metrics.JobFailed(string(fe.Kind))

	attrs := []any{
		slog.String("kind", string(fe.Kind)),
		slog.String("error", fe.Error()),
	}
	if fe.Kind == failure.KindValidation || fe.Kind == failure.KindBusy {
		e.logger.Info("job rejected", attrs...)
	} else {
		e.logger.Warn("job failed", attrs...)
	}
	return fe
}

// release removes the workspace once.
func (e *Execution) release() {
	e.releaseOnce.Do(func() {
		if e.ws == nil {
			return
		}
		if err := e.ws.Release(); err != nil {
			e.logger.Error("failed to release workspace",
				slog.String("workspace", e.ws.Name()),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (c *Coordinator) save(ctx context.Context, e *Execution) {
	if err := c.repo.Save(context.WithoutCancel(ctx), e.job); err != nil {
		e.logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

func (e *Execution) jobOrNil() *Job {
	if e == nil {
		return nil
	}
	return e.job.Clone()
}
