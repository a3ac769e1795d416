package availability

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges [preset]",
	Short: "Resolve date range presets",
	Long: `Show the bounds each date range preset resolves to right now, in the
configured time zone and week start. Pass a preset to resolve only that one.

Examples:
  panda-availability availability ranges
  panda-availability availability ranges lastQuarter`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		keys := domain.PresetKeys()
		if len(args) == 1 {
			keys = []string{args[0]}
		}

		opts := domain.DateRangeOptions{
			Now:       app.Now(),
			Location:  app.Location(),
			WeekStart: app.Scheduling.WeekStart,
		}
		ranges := make([]domain.DateRange, 0, len(keys))
		for _, key := range keys {
			if key == domain.PresetCustom {
				continue
			}
			r, err := domain.ParseDateRange(key, opts)
			if err != nil {
				return err
			}
			ranges = append(ranges, r)
		}

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(ranges))
			for _, r := range ranges {
				views = append(views, map[string]any{"key": r.Key, "start": r.Start, "end": r.End})
			}
			return cli.PrintJSON(cmd, views)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Now: %s (week starts %s)\n", opts.Now.Format(time.RFC3339), opts.WeekStart)
		cli.Rule(out, 60)
		for _, r := range ranges {
			fmt.Fprintf(out, "  %-12s %s  ->  %s\n", r.Key, r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04:05.000"))
		}
		return nil
	},
}
