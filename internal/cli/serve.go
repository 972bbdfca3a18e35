package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maauso/slideshow-api/internal/bootstrap"
	"github.com/maauso/slideshow-api/internal/config"
	"github.com/maauso/slideshow-api/internal/server"
)

// shutdownTimeout bounds the wait for in-flight requests and background jobs.
const shutdownTimeout = 30 * time.Second

// Serve runs the HTTP API on cfg.Port until ctx is cancelled, then shuts
// down gracefully.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, cfg, logger, ln)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ln net.Listener) error {
	logger.Info("starting slideshow API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_concurrent_renders", cfg.MaxConcurrentRenders),
		slog.String("busy_policy", cfg.BusyPolicy),
		slog.Duration("render_timeout", cfg.RenderTimeout),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	deps.StartBackground(janitorCtx)

	opts := []server.HandlerOption{server.WithMaxUploadBytes(cfg.MaxUploadBytes())}
	if deps.Storage != nil {
		opts = append(opts, server.WithArtifactDelivery(deps.StoreArtifact))
	}
	handlers := server.NewHandlers(deps.Coordinator, logger, opts...)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: server.ParseOrigins(cfg.CORSAllowedOrigins),
		Metrics:        deps.Metrics.Handler(),
	})

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		// A synchronous compose may run the engine twice, the second time
		// with a doubled timeout.
		WriteTimeout: 3*cfg.RenderTimeout + 2*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", ln.Addr().String()),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
