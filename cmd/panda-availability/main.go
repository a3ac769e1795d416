package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/adapter/cli/auth"
	"github.com/robpanda/panda-crm/adapter/cli/availability"
	"github.com/robpanda/panda-crm/adapter/cli/resource"
	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/pkg/config"
	"github.com/robpanda/panda-crm/pkg/observability"
)

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  observability.LogLevel(cfg.LogLevel),
		Format: observability.LogFormat(cfg.LogFormat),
		Output: os.Stderr,
	})
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
		// version and help still work without a database.
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()
		cli.SetApp(cli.FromContainer(container))
	}

	// Register commands
	cli.AddCommand(availability.Cmd)
	cli.AddCommand(resource.Cmd)
	cli.AddCommand(auth.Cmd)

	// Execute CLI
	cli.Execute(ctx)
}
