// Package api provides the HTTP API for crew availability queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// Server is the HTTP API server for availability queries.
type Server struct {
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	handler *AvailabilityHandler
	health  *observability.HealthRegistry
	metrics http.Handler
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ServerOption configures optional server endpoints.
type ServerOption func(*Server)

// WithHealth serves the registry's report on /health.
func WithHealth(h *observability.HealthRegistry) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new availability API server.
func NewServer(cfg ServerConfig, handler *AvailabilityHandler, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger,
		handler: handler,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.correlate)

	// Register routes
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/ranges", s.handler.ListRanges)
		r.Post("/availability/batch", s.handler.BatchBusy)

		r.Route("/resources/{resourceID}", func(r chi.Router) {
			r.Get("/availability", s.handler.CheckSlot)
			r.Get("/slots", s.handler.FreeSlots)
			r.Get("/busy", s.handler.BusyPeriods)
		})
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// correlate tags every request context with a correlation ID, reusing the
// X-Correlation-ID header when the caller sent one, and copies chi's request ID
// where the logger can find it.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithCorrelationID(r.Context(), r.Header.Get("X-Correlation-ID"))
		ctx = observability.WithRequestID(ctx, middleware.GetReqID(ctx))
		w.Header().Set("X-Correlation-ID", observability.CorrelationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting availability API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down availability API server")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError sends apiErr tagged with the request ID so a caller can quote
// it when reporting a failure.
func writeError(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	body := *apiErr
	body.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, apiErr.Status, &body)
}

// APIError is the JSON error body. Code is stable; Message is for humans.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) withMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

func newAPIError(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Message: msg}
}

var (
	ErrBadRequest          = newAPIError(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrInvalidWindow       = newAPIError(http.StatusBadRequest, "invalid_window", "Start must be before end")
	ErrInvalidSlotDuration = newAPIError(http.StatusBadRequest, "invalid_slot_duration", "Slot duration must be positive")
	ErrUnknownRange        = newAPIError(http.StatusBadRequest, "unknown_range", "Unknown date range")
	ErrUnknownResource     = newAPIError(http.StatusNotFound, "unknown_resource", "Resource not found")
	ErrInternalServer      = newAPIError(http.StatusInternalServerError, "internal_error", "Internal server error")
)

// domainErrors maps resolver sentinels to their response. Anything else is
// a 500 and its text is not exposed.
var domainErrors = []struct {
	target error
	resp   *APIError
}{
	{domain.ErrUnknownResource, ErrUnknownResource},
	{domain.ErrInvalidInterval, ErrInvalidWindow},
	{domain.ErrInvalidWindow, ErrInvalidWindow},
	{domain.ErrInvalidSlotDuration, ErrInvalidSlotDuration},
	{domain.ErrUnknownPreset, ErrUnknownRange},
}

func toAPIError(err error) *APIError {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.resp.withMessage(err.Error())
		}
	}
	return ErrInternalServer
}
