// Package auth stores the credentials used to read external calendars.
package auth

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
)

// ErrNoCredentialService means the encryption key is not configured.
var ErrNoCredentialService = errors.New("credential storage not configured, set PANDA_ENCRYPTION_KEY")

var Cmd = &cobra.Command{
	Use:   "auth",
	Short: "Connect external calendar accounts",
	Long: `Store credentials for the external calendars linked to resources.
Credentials are encrypted at rest with PANDA_ENCRYPTION_KEY.`,
}

func init() {
	Cmd.AddCommand(connectCmd)
	Cmd.AddCommand(importTokenCmd)
}

func credentialService() (*credentials.Service, error) {
	app, err := cli.RequireApp()
	if err != nil {
		return nil, err
	}
	if app.Credentials == nil {
		return nil, ErrNoCredentialService
	}
	return app.Credentials, nil
}
