package availability

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	freeWindow   cli.WindowFlags
	freeDuration time.Duration
	freeLimit    int
)

var freeCmd = &cobra.Command{
	Use:   "free <resource-id>",
	Short: "List free appointment slots",
	Long: `List appointment slots inside working hours that do not overlap any
booking, manual block or external calendar event.

Examples:
  panda-availability availability free crew-17
  panda-availability availability free crew-17 --range nextWeek --duration 2h
  panda-availability availability free crew-17 --from "2026-03-02 08:00" --to "2026-03-02 17:00"`,
	Aliases: []string{"slots", "available"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		w, err := freeWindow.Resolve(app, cmd)
		if err != nil {
			return err
		}

		duration := freeDuration
		if duration == 0 {
			duration = app.Resolver.Generator().SlotDuration()
		}

		id := domain.ResourceID(args[0])
		result, err := app.Resolver.FirstFreeSlots(cmd.Context(), id, w.Start, w.End, duration, freeLimit)
		if err != nil {
			return fmt.Errorf("failed to list free slots: %w", err)
		}
		slots := result.Slots

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(slots))
			for _, s := range slots {
				views = append(views, map[string]any{"start": s.Start, "end": s.End, "label": s.Label})
			}
			return cli.PrintJSON(cmd, map[string]any{
				"resource_id": id,
				"window":      map[string]any{"start": w.Start, "end": w.End},
				"slots":       views,
				"busy":        periodViews(result.Busy),
				"degraded":    failureViews(result.Degraded),
			})
		}

		loc := app.Location()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Free slots for %s\n", id)
		fmt.Fprintf(out, "Window: %s\n", cli.FormatInterval(w, loc))
		cli.Rule(out, 50)

		if len(slots) == 0 {
			fmt.Fprintln(out, "\n  No free slots found.")
		} else {
			var total time.Duration
			for _, s := range slots {
				fmt.Fprintf(out, "  %s  (%s)\n", cli.FormatInterval(s.TimeInterval, loc), cli.FormatDuration(s.Duration()))
				total += s.Duration()
			}
			cli.Rule(out, 50)
			fmt.Fprintf(out, "Total: %d slots, %s free\n", len(slots), cli.FormatDuration(total))
			if len(slots) < len(result.Slots) {
				fmt.Fprintf(out, "(%d more not shown)\n", len(result.Slots)-len(slots))
			}
		}
		printDegraded(out, result.Degraded)
		return nil
	},
}

func init() {
	freeWindow.Register(freeCmd, domain.PresetThisWeek)
	freeCmd.Flags().DurationVarP(&freeDuration, "duration", "d", 0, "appointment length (default: configured slot duration)")
	freeCmd.Flags().IntVarP(&freeLimit, "limit", "n", 0, "show at most n slots")
}
