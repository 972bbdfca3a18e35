package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/failure"
)

// Defaults for FFmpegExecutor.
const (
	DefaultTimeout       = 2 * time.Minute
	DefaultMinOutputSize = 1024
	defaultWaitDelay     = 5 * time.Second
)

// Static errors for media operations.
var (
	// ErrNoOutputOp is returned when a graph has no output operation.
	ErrNoOutputOp = errors.New("render graph has no output operation")
	// ErrUnknownOp is returned when a graph holds an operation the executor cannot serialize.
	ErrUnknownOp = errors.New("unknown render operation")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegExecutor implements Renderer and Prober using the ffmpeg CLI.
type FFmpegExecutor struct {
	ffmpegPath    string
	ffprobePath   string
	timeout       time.Duration
	minOutputSize int64
	waitDelay     time.Duration
	logger        *slog.Logger
}

// Option configures an FFmpegExecutor.
type Option func(*FFmpegExecutor)

// WithTimeout sets the default wall-clock limit of one engine run.
func WithTimeout(d time.Duration) Option {
	return func(e *FFmpegExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMinOutputSize sets the size below which an output counts as empty.
func WithMinOutputSize(n int64) Option {
	return func(e *FFmpegExecutor) {
		e.minOutputSize = n
	}
}

// WithFFprobePath sets the ffprobe binary used by Duration.
func WithFFprobePath(path string) Option {
	return func(e *FFmpegExecutor) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *FFmpegExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewFFmpegExecutor creates a new FFmpegExecutor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegExecutor(ffmpegPath string, opts ...Option) *FFmpegExecutor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegExecutor{
		ffmpegPath:    ffmpegPath,
		ffprobePath:   "ffprobe",
		timeout:       DefaultTimeout,
		minOutputSize: DefaultMinOutputSize,
		waitDelay:     defaultWaitDelay,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the default engine timeout.
func (e *FFmpegExecutor) Timeout() time.Duration {
	return e.timeout
}

// Execute renders g to output with the default timeout.
func (e *FFmpegExecutor) Execute(ctx context.Context, g compose.RenderGraph, output string) (Artifact, error) {
	return e.Render(ctx, g, output, 0)
}

// Render serializes g, runs ffmpeg, and verifies the output file.
//
// A nonzero exit yields an ENGINE_ERROR carrying stderr verbatim. Expiry of
// the timeout kills the engine's process group and yields a TIMEOUT. A zero
// exit with a missing or undersized output yields EMPTY_OUTPUT. Cancellation
// of ctx by the caller yields an INTERNAL_ERROR wrapping context.Canceled.
func (e *FFmpegExecutor) Render(ctx context.Context, g compose.RenderGraph, output string, timeout time.Duration) (Artifact, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}

	args, err := BuildArgs(g, output)
	if err != nil {
		return Artifact{}, failure.Internal("render.serialize", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, e.ffmpegPath, args...)
	configureKill(cmd)
	cmd.WaitDelay = e.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running ffmpeg",
		slog.String("output", output),
		slog.Duration("timeout", timeout),
		slog.String("args", strings.Join(args, " ")),
	)

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Artifact{}, failure.Internal("render", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err()))
		}
		if runCtx.Err() != nil {
			e.logger.Warn("ffmpeg timed out",
				slog.String("output", output),
				slog.Duration("timeout", timeout),
			)
			return Artifact{}, failure.Timeout("render", timeout, stderr.String(), runCtx.Err())
		}

		ffErr := &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
		e.logger.Warn("ffmpeg failed",
			slog.String("output", output),
			slog.String("error", err.Error()),
			slog.String("stderr", ffErr.Stderr),
		)
		return Artifact{}, failure.Engine("render", ffErr.Stderr, ffErr)
	}

	info, statErr := os.Stat(output)
	switch {
	case statErr != nil && os.IsNotExist(statErr):
		return Artifact{}, failure.EmptyOutput(output, -1, e.minOutputSize)
	case statErr != nil:
		return Artifact{}, failure.Internal("render.verify", statErr)
	case info.Size() < e.minOutputSize:
		return Artifact{}, failure.EmptyOutput(output, info.Size(), e.minOutputSize)
	}

	e.logger.Debug("ffmpeg finished",
		slog.String("output", output),
		slog.Int64("size", info.Size()),
		slog.Duration("elapsed", elapsed),
	)

	return Artifact{Path: output, Size: info.Size(), MIMEType: MIMEType}, nil
}

// BuildArgs serializes g into an ffmpeg argument list writing to output.
func BuildArgs(g compose.RenderGraph, output string) ([]string, error) {
	out, ok := g.Output()
	if !ok {
		return nil, ErrNoOutputOp
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	for _, in := range g.Inputs() {
		args = append(args, "-i", in.Path)
	}

	chains := make([]string, 0, g.Len())
	for _, op := range g.Ops() {
		if _, isOutput := op.(compose.Output); isOutput {
			continue
		}
		chain, err := filterChain(op)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	args = append(args, "-filter_complex", strings.Join(chains, ";"))

	args = append(args, "-map", "["+out.Video+"]")
	if out.Audio != "" {
		args = append(args, "-map", "["+out.Audio+"]")
	}

	args = append(args, "-c:v", out.VideoCodec)
	if out.PixelFormat != "" {
		args = append(args, "-pix_fmt", out.PixelFormat)
	}
	args = append(args, "-r", strconv.Itoa(out.FrameRate))
	if out.Audio != "" {
		args = append(args, "-c:a", out.AudioCodec)
	}
	args = append(args, "-t", seconds(out.Duration))
	if out.Shortest {
		args = append(args, "-shortest")
	}
	args = append(args, "-movflags", "+faststart", output)

	return args, nil
}

// filterChain renders one operation as a labelled filtergraph chain.
func filterChain(op compose.Op) (string, error) {
	switch o := op.(type) {
	case compose.Scale:
		return fmt.Sprintf("[%s]scale=%d:%d:force_original_aspect_ratio=decrease[%s]", o.In, o.Width, o.Height, o.Out), nil
	case compose.Pad:
		return fmt.Sprintf("[%s]pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s[%s]", o.In, o.Width, o.Height, o.Color, o.Out), nil
	case compose.SetAspect:
		return fmt.Sprintf("[%s]setsar=%d/%d[%s]", o.In, o.Num, o.Den, o.Out), nil
	case compose.LoopExtend:
		return fmt.Sprintf("[%s]loop=loop=%d:size=1:start=0,setpts=N/(%d*TB)[%s]", o.In, o.Frames-1, o.FrameRate, o.Out), nil
	case compose.Concat:
		return fmt.Sprintf("%sconcat=n=%d:v=1:a=0[%s]", labels(o.Inputs), len(o.Inputs), o.Out), nil
	case compose.VolumeAdjust:
		return fmt.Sprintf("[%s]volume=%s[%s]", o.In, strconv.FormatFloat(o.Gain, 'f', 3, 64), o.Out), nil
	case compose.Mix:
		return fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0,aformat=channel_layouts=stereo[%s]",
			labels(o.Inputs), len(o.Inputs), o.Out), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownOp, op.Kind())
	}
}

func labels(names []string) string {
	var b strings.Builder
	for _, n := range names {
		b.WriteString("[")
		b.WriteString(n)
		b.WriteString("]")
	}
	return b.String()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Duration returns the container duration of a media file using ffprobe.
func (e *FFmpegExecutor) Duration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return time.Duration(secs * float64(time.Second)), nil
}
