package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Pre-fetch external calendars into the free/busy cache",
	Long: `Fetch busy periods for every synced resource once so that interactive
queries are answered from the cache. The worker runs this on a schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := RequireApp()
		if err != nil {
			return err
		}
		if app.Warmer == nil {
			return errors.New("warmup not configured")
		}

		report, err := app.Warmer.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("warmup failed: %w", err)
		}
		if JSONOutput() {
			return PrintJSON(cmd, map[string]any{
				"resources":   report.Resources,
				"batches":     report.Batches,
				"failures":    report.Failures,
				"start":       report.Window.Start,
				"end":         report.Window.End,
				"duration_ms": report.Duration.Milliseconds(),
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Warmed %d resource(s) in %d batch(es)\n", report.Resources, report.Batches)
		fmt.Fprintf(out, "  Window: %s\n", FormatInterval(report.Window, app.Location()))
		fmt.Fprintf(out, "  Took: %s\n", report.Duration.Round(time.Millisecond))
		if report.Failures > 0 {
			fmt.Fprintf(out, "  Unavailable sources: %d\n", report.Failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(warmupCmd)
}
