package resource

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	addName      string
	addCalendars []string
	addNoSync    bool
)

var addCmd = &cobra.Command{
	Use:   "add <resource-id>",
	Short: "Create or update a resource",
	Long: `Create a resource or replace an existing one, including its calendar
links. Calendars are given as provider:account.

Providers: google, microsoft, caldav, ics

Examples:
  panda-availability resource add crew-17 --name "Roofing crew 17" --calendar google:crew17@example.com
  panda-availability resource add crew-22 --calendar ics:https://example.com/crew22.ics --calendar caldav:crew22
  panda-availability resource add crew-31 --no-sync`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}

		identity := domain.ResourceIdentity{
			ResourceID:  domain.ResourceID(args[0]),
			Name:        addName,
			SyncEnabled: !addNoSync,
		}
		for _, raw := range addCalendars {
			ext, err := domain.ParseExternalIdentity(raw)
			if err != nil {
				return err
			}
			identity.Calendars = append(identity.Calendars, ext)
		}

		if err := app.Resources.SaveResource(cmd.Context(), identity); err != nil {
			return fmt.Errorf("failed to save resource: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Saved resource %s\n", identity.ResourceID)
		if identity.Name != "" {
			fmt.Fprintf(out, "  Name: %s\n", identity.Name)
		}
		fmt.Fprintf(out, "  Sync: %t\n", identity.SyncEnabled)
		for _, c := range identity.Calendars {
			fmt.Fprintf(out, "  Calendar: %s (%s)\n", c.Account, c.Provider.DisplayName())
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addName, "name", "n", "", "display name")
	addCmd.Flags().StringArrayVar(&addCalendars, "calendar", nil, "linked calendar as provider:account (repeatable)")
	addCmd.Flags().BoolVar(&addNoSync, "no-sync", false, "ignore external calendars for this resource")
}
