package cli

import (
	"errors"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
	"github.com/robpanda/panda-crm/pkg/config"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// ErrNotInitialized is returned by commands that need the availability store
// when the container failed to start.
var ErrNotInitialized = errors.New("availability store not initialized, check DATABASE_URL or SQLITE_PATH")

// App holds the CLI application dependencies.
type App struct {
	Resolver   *application.Resolver
	Resources  domain.ResourceRepository
	Bookings   domain.BookingRepository
	Blocks     domain.ManualBlockRepository
	Scheduling config.Scheduling

	// Optional
	Credentials *credentials.Service
	Warmer      *application.Warmer
	Health      *observability.HealthRegistry

	now func() time.Time
}

// NewApp creates a new CLI application.
func NewApp(
	resolver *application.Resolver,
	resources domain.ResourceRepository,
	bookings domain.BookingRepository,
	blocks domain.ManualBlockRepository,
	scheduling config.Scheduling,
) *App {
	return &App{
		Resolver:   resolver,
		Resources:  resources,
		Bookings:   bookings,
		Blocks:     blocks,
		Scheduling: scheduling,
		now:        time.Now,
	}
}

// SetCredentials sets the credential service used by the auth commands.
func (a *App) SetCredentials(svc *credentials.Service) {
	a.Credentials = svc
}

// SetWarmer sets the cache warmer.
func (a *App) SetWarmer(w *application.Warmer) {
	a.Warmer = w
}

// SetHealth sets the health registry.
func (a *App) SetHealth(h *observability.HealthRegistry) {
	a.Health = h
}

// SetClock replaces the wall clock, for tests.
func (a *App) SetClock(now func() time.Time) {
	a.now = now
}

// Now returns the current time in the scheduling location.
func (a *App) Now() time.Time {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	return now().In(a.Location())
}

// Location returns the scheduling location, UTC when unset.
func (a *App) Location() *time.Location {
	if a.Scheduling.Location == nil {
		return time.UTC
	}
	return a.Scheduling.Location
}

var currentApp *App

// SetApp sets the global CLI app instance.
func SetApp(app *App) {
	currentApp = app
}

// GetApp returns the global CLI app instance.
func GetApp() *App {
	return currentApp
}

// RequireApp returns the app or ErrNotInitialized.
func RequireApp() (*App, error) {
	if currentApp == nil || currentApp.Resolver == nil {
		return nil, ErrNotInitialized
	}
	return currentApp, nil
}
