package resource

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List resources",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		resources, err := app.Resources.ListResources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list resources: %w", err)
		}

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(resources))
			for _, r := range resources {
				cals := make([]string, 0, len(r.Calendars))
				for _, c := range r.Calendars {
					cals = append(cals, c.Key())
				}
				views = append(views, map[string]any{
					"id":           r.ResourceID,
					"name":         r.Name,
					"sync_enabled": r.SyncEnabled,
					"calendars":    cals,
				})
			}
			return cli.PrintJSON(cmd, views)
		}

		out := cmd.OutOrStdout()
		if len(resources) == 0 {
			fmt.Fprintln(out, "No resources. Add one with: panda-availability resource add <id>")
			return nil
		}
		fmt.Fprintf(out, "%d resource(s)\n", len(resources))
		cli.Rule(out, 50)
		for _, r := range resources {
			sync := ""
			if !r.SyncEnabled {
				sync = "  [sync off]"
			}
			fmt.Fprintf(out, "%s  %s%s\n", r.ResourceID, r.Name, sync)
			for _, c := range r.Calendars {
				fmt.Fprintf(out, "    %s\n", c)
			}
		}
		return nil
	},
}
