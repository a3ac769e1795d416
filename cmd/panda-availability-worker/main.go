package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/eventbus"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/outbox"
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
		ServiceName: "panda-availability-worker",
	})
	logger.Info("starting availability worker")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize container: %w", err)
	}
	defer container.Close()

	// Event relay: outbox -> broker -> degradation consumer.
	broker, err := container.Broker()
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer broker.Close()

	processor := container.NewOutboxProcessor(broker)
	if processor != nil {
		subscriber, err := container.Subscriber(broker)
		if err != nil {
			return fmt.Errorf("subscribe to events: %w", err)
		}
		if _, local := broker.(*eventbus.LocalBus); !local {
			defer subscriber.Close()
		}
		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", "error", err)
			}
		}()
		if err := processor.Start(ctx); err != nil {
			return fmt.Errorf("start outbox processor: %w", err)
		}
		defer processor.Stop()
	} else {
		logger.Info("events disabled, outbox relay not started")
	}

	// Scheduled jobs.
	warmer := application.NewWarmer(container.Store, container.Resolver, cfg.WarmupWindow, logger)
	scheduler := cron.New(cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	if cfg.WarmupSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.WarmupSchedule, func() {
			if _, err := warmer.Run(observability.WithCorrelationID(ctx, "")); err != nil {
				logger.Error("availability warmup failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid WARMUP_SCHEDULE %q: %w", cfg.WarmupSchedule, err)
		}
	}
	if processor != nil {
		if _, err := scheduler.AddFunc("@hourly", func() { cleanupOutbox(ctx, processor, logger) }); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()
	logger.Info("scheduler started", "warmup_schedule", cfg.WarmupSchedule, "warmup_window", cfg.WarmupWindow)

	if cfg.WorkerHealthAddr != "" {
		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           healthRouter(container, processor),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down worker")
	return nil
}

func cleanupOutbox(ctx context.Context, processor *outbox.Processor, logger *slog.Logger) {
	deleted, err := processor.Cleanup(ctx)
	if err != nil {
		logger.Error("outbox cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		logger.Info("outbox cleanup completed", "deleted", deleted)
	}
}

func healthRouter(container *app.Container, processor *outbox.Processor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{"status": "ok"}
		if processor != nil {
			stats := processor.Stats()
			response["outbox"] = map[string]any{
				"running":         stats.Running,
				"published":       stats.Published,
				"retried":         stats.Retried,
				"dead_lettered":   stats.Buried,
				"lag_seconds":     stats.Lag.Seconds(),
				"last_poll_at":    optionalTime(stats.LastPoll),
				"last_failure_at": optionalTime(stats.LastFailureAt),
				"last_failure":    stats.LastFailure,
			}
		}
		writeJSON(w, http.StatusOK, response)
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		report := container.Health.Check(checkCtx)
		status := http.StatusOK
		if report.Status == observability.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})

	r.Handle("/metrics", container.Metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
