package availability

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var busyWindow cli.WindowFlags

var busyCmd = &cobra.Command{
	Use:   "busy <resource-id>",
	Short: "Show merged busy periods for a resource",
	Long: `Show the merged busy periods of one resource. Overlapping or touching
periods from different sources are reported as "mixed".

Examples:
  panda-availability availability busy crew-17
  panda-availability availability busy crew-17 --range thisMonth --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		w, err := busyWindow.Resolve(app, cmd)
		if err != nil {
			return err
		}

		id := domain.ResourceID(args[0])
		view, err := app.Resolver.BusyPeriods(cmd.Context(), id, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("failed to load busy periods: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, map[string]any{
				"resource_id": id,
				"window":      map[string]any{"start": w.Start, "end": w.End},
				"periods":     periodViews(view.Periods),
				"degraded":    failureViews(view.Degraded),
			})
		}

		loc := app.Location()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Busy periods for %s\n", id)
		fmt.Fprintf(out, "Window: %s\n", cli.FormatInterval(w, loc))
		cli.Rule(out, 50)
		printPeriods(out, view.Periods, loc)
		printDegraded(out, view.Degraded)
		return nil
	},
}

func init() {
	busyWindow.Register(busyCmd, domain.PresetThisWeek)
}
