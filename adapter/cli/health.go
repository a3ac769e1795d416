package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database and cache connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := RequireApp()
		if err != nil {
			return err
		}
		if app.Health == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}

		report := app.Health.Check(cmd.Context())
		if JSONOutput() {
			if err := PrintJSON(cmd, report); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", report.Status)
			names := make([]string, 0, len(report.Checks))
			for name := range report.Checks {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				check := report.Checks[name]
				fmt.Fprintf(out, "  %-10s %s", name, check.Status)
				if check.Message != "" {
					fmt.Fprintf(out, " (%s)", check.Message)
				}
				fmt.Fprintln(out)
			}
		}
		if report.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
