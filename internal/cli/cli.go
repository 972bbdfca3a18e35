// Package cli implements the slideshow command line.
//
//	slideshow compose -m job.yaml          render a job to a local file
//	slideshow compose --image a.png --image b.png --background bg.mp3 -o out.mp4
//	slideshow plan -m job.yaml             print the engine invocation only
//	slideshow serve                        run the HTTP API
//
// Engine, workspace and default options come from the same environment
// variables the server reads.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/slideshow-api/internal/bootstrap"
	"github.com/maauso/slideshow-api/internal/compose"
	"github.com/maauso/slideshow-api/internal/config"
	"github.com/maauso/slideshow-api/internal/failure"
	"github.com/maauso/slideshow-api/internal/job"
	"github.com/maauso/slideshow-api/internal/media"
)

// Version is set at build time.
var Version = "dev"

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slideshow",
		Short: "Compose slideshow videos from still images and audio",
		Long: `slideshow turns an ordered set of images plus optional background
and foreground audio into a single MP4 using ffmpeg.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(buildComposeCommand())
	rootCmd.AddCommand(buildPlanCommand())
	rootCmd.AddCommand(buildServeCommand())

	return rootCmd
}

// jobFlags are the job description flags shared by compose and plan.
type jobFlags struct {
	manifest         string
	images           []string
	background       string
	foreground       string
	output           string
	width            int
	height           int
	frameRate        int
	imageDuration    time.Duration
	backgroundVolume float64
	foregroundVolume float64
	shortest         bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.manifest, "manifest", "m", "", "YAML job manifest")
	fs.StringArrayVarP(&f.images, "image", "i", nil, "image file, repeat in slideshow order")
	fs.StringVarP(&f.background, "background", "b", "", "background audio file")
	fs.StringVarP(&f.foreground, "foreground", "f", "", "foreground audio file")
	fs.StringVarP(&f.output, "output", "o", "", "output file (default "+job.OutputName+")")
	fs.IntVar(&f.width, "width", 0, "output width in pixels")
	fs.IntVar(&f.height, "height", 0, "output height in pixels")
	fs.IntVar(&f.frameRate, "fps", 0, "output frame rate")
	fs.DurationVar(&f.imageDuration, "image-duration", 0, "time each image is shown")
	fs.Float64Var(&f.backgroundVolume, "background-volume", 0, "background track gain")
	fs.Float64Var(&f.foregroundVolume, "foreground-volume", 0, "foreground track gain")
	fs.BoolVar(&f.shortest, "shortest", true, "clamp output to the shorter of video and audio")
}

// resolve merges the manifest, if any, with explicitly set flags. Flags win.
func (f *jobFlags) resolve(cmd *cobra.Command) (*Manifest, error) {
	m := &Manifest{}
	if f.manifest != "" {
		loaded, err := LoadManifest(f.manifest)
		if err != nil {
			return nil, err
		}
		m = loaded
	}

	fs := cmd.Flags()
	if len(f.images) > 0 {
		m.Images = f.images
	}
	if fs.Changed("background") {
		m.Background = f.background
	}
	if fs.Changed("foreground") {
		m.Foreground = f.foreground
	}
	if fs.Changed("output") {
		m.Output = f.output
	}
	if m.Output == "" {
		m.Output = job.OutputName
	}

	o := &m.Options
	if fs.Changed("width") {
		o.Width = &f.width
	}
	if fs.Changed("height") {
		o.Height = &f.height
	}
	if fs.Changed("fps") {
		o.FrameRate = &f.frameRate
	}
	if fs.Changed("image-duration") {
		o.ImageDuration = &f.imageDuration
	}
	if fs.Changed("background-volume") {
		o.BackgroundVolume = &f.backgroundVolume
	}
	if fs.Changed("foreground-volume") {
		o.ForegroundVolume = &f.foregroundVolume
	}
	if fs.Changed("shortest") {
		o.Shortest = &f.shortest
	}
	return m, nil
}

func buildComposeCommand() *cobra.Command {
	flags := &jobFlags{}

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Render a slideshow to a local file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runCompose(cmd.Context(), cfg, m, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	flags.register(cmd)

	return cmd
}

func runCompose(ctx context.Context, cfg *config.Config, m *Manifest, stdout, stderr io.Writer) error {
	logger := cfg.NewLoggerTo(stderr)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	j, err := deps.Coordinator.Run(ctx, m.Submission(), copyTo(m.Output))
	if err != nil {
		if fe, ok := failure.As(err); ok && fe.Diagnostic != "" {
			fmt.Fprintln(stderr, strings.TrimSpace(fe.Diagnostic))
		}
		return err
	}

	fmt.Fprintf(stdout, "%s\t%s\t%d images\t%s\t%d bytes\t%s\n",
		j.ID, j.State, j.ImageCount, j.Duration, j.ArtifactSize, j.ArtifactURL)
	return nil
}

// copyTo delivers the artifact to dst, replacing any existing file only once
// the copy is complete.
func copyTo(dst string) job.Deliverer {
	return func(ctx context.Context, jobID string, artifact media.Artifact) (string, error) {
		abs, err := filepath.Abs(dst)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}

		src, err := os.Open(artifact.Path)
		if err != nil {
			return "", fmt.Errorf("open artifact: %w", err)
		}
		defer src.Close()

		tmp, err := os.CreateTemp(filepath.Dir(abs), "."+jobID+"_*")
		if err != nil {
			return "", fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()

		if _, err := io.Copy(tmp, src); err != nil {
			_ = tmp.Close()
			return "", fmt.Errorf("copy artifact: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", fmt.Errorf("close output file: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("context cancelled: %w", err)
		}
		if err := os.Rename(tmp.Name(), abs); err != nil {
			return "", fmt.Errorf("rename output file: %w", err)
		}
		return abs, nil
	}
}

func buildPlanCommand() *cobra.Command {
	flags := &jobFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the ffmpeg invocation for a job without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runPlan(cfg, m, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)

	return cmd
}

func runPlan(cfg *config.Config, m *Manifest, stdout io.Writer) error {
	if cfg.RequireBackgroundAudio && m.Background == "" {
		return failure.Validation("bgMusic", "background audio is required")
	}

	spec := m.Spec(bootstrap.CompositionDefaults(cfg).Apply(m.Overrides()))
	graph, err := compose.Plan(spec)
	if err != nil {
		return err
	}
	args, err := media.BuildArgs(graph, m.Output)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, shellJoin(append([]string{cfg.FFmpegPath}, args...)))
	return nil
}

// shellJoin quotes words that a POSIX shell would split or expand.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w != "" && !strings.ContainsAny(w, " \t\n\"'\\$`;&|<>()[]*?!#~{}") {
			quoted[i] = w
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func buildServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := cfg.NewLogger()
			slog.SetDefault(logger)
			return Serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on (overrides PORT)")

	return cmd
}
