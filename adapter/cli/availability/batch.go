package availability

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	batchWindow cli.WindowFlags
	batchAll    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [resource-id...]",
	Short: "Show busy periods for several resources at once",
	Long: `Fetch busy periods for many resources concurrently. Every requested
resource appears in the result, with an empty list when it is free or
unknown.

Examples:
  panda-availability availability batch crew-17 crew-22 crew-31
  panda-availability availability batch --all --range nextWeek`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		w, err := batchWindow.Resolve(app, cmd)
		if err != nil {
			return err
		}

		ids := make([]domain.ResourceID, 0, len(args))
		for _, a := range args {
			ids = append(ids, domain.ResourceID(a))
		}
		if batchAll {
			resources, err := app.Resources.ListResources(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list resources: %w", err)
			}
			for _, r := range resources {
				if !slices.Contains(ids, r.ResourceID) {
					ids = append(ids, r.ResourceID)
				}
			}
		}
		if len(ids) == 0 {
			return fmt.Errorf("no resources given, pass IDs or --all")
		}

		result, err := app.Resolver.BatchBusyPeriods(cmd.Context(), ids, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("failed to load busy periods: %w", err)
		}

		if cli.JSONOutput() {
			periods := make(map[string][]periodView, len(result.Periods))
			for id, p := range result.Periods {
				periods[string(id)] = periodViews(p)
			}
			return cli.PrintJSON(cmd, map[string]any{
				"window":   map[string]any{"start": w.Start, "end": w.End},
				"periods":  periods,
				"degraded": failureViews(result.Degraded),
			})
		}

		loc := app.Location()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Window: %s\n", cli.FormatInterval(w, loc))
		for _, id := range ids {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%s\n", id)
			cli.Rule(out, 50)
			printPeriods(out, result.Periods[id], loc)
		}
		printDegraded(out, result.Degraded)
		return nil
	},
}

func init() {
	batchWindow.Register(batchCmd, domain.PresetThisWeek)
	batchCmd.Flags().BoolVar(&batchAll, "all", false, "include every known resource")
}
