package cli

import (
	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/internal/availability/application"
)

// FromContainer builds the CLI app from a wired container.
func FromContainer(c *app.Container) *App {
	a := NewApp(c.Resolver, c.Store, c.Store, c.Store, c.Config.Scheduling)
	a.SetHealth(c.Health)
	if c.Credentials != nil {
		a.SetCredentials(c.Credentials)
	}
	a.SetWarmer(application.NewWarmer(c.Store, c.Resolver, c.Config.WarmupWindow, c.Logger))
	return a
}
