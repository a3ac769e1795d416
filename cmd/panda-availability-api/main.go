package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robpanda/panda-crm/adapter/api"
	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/pkg/config"
	"github.com/robpanda/panda-crm/pkg/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       observability.LogLevel(cfg.LogLevel),
		Format:      observability.LogFormat(cfg.LogFormat),
		Output:      os.Stdout,
		ServiceName: "panda-availability-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	handler := api.NewAvailabilityHandler(api.AvailabilityHandlerConfig{
		Resolver:        container.Resolver,
		Location:        cfg.Scheduling.Location,
		WeekStart:       cfg.Scheduling.WeekStart,
		MaxWindow:       cfg.APIMaxWindow,
		MinSlotDuration: cfg.APIMinSlotDuration,
		Logger:          logger,
	})

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.APIAddr
	server := api.NewServer(serverCfg, handler, logger,
		api.WithHealth(container.Health),
		api.WithMetricsHandler(container.Metrics.Handler()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("API server failed", "error", err)
		container.Close()
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", "error", err)
	}
}
