// Package main provides the slideshow command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/slideshow-api/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.BuildCLI().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
