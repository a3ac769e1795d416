package availability

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	checkStart    string
	checkEnd      string
	checkDuration time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check <resource-id>",
	Short: "Check whether a slot is free",
	Long: `Check whether a resource is free for a proposed appointment slot.

Either --end or --duration sets the slot length; the default is the
configured slot duration.

Examples:
  panda-availability availability check crew-17 --start "2026-03-02 09:00" --duration 2h
  panda-availability availability check crew-17 --start 2026-03-02T09:00:00-05:00 --end 2026-03-02T11:00:00-05:00`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		loc := app.Location()

		start, err := cli.ParseTime(checkStart, loc)
		if err != nil {
			return err
		}
		end := start.Add(app.Resolver.Generator().SlotDuration())
		switch {
		case checkEnd != "":
			if end, err = cli.ParseTime(checkEnd, loc); err != nil {
				return err
			}
		case checkDuration > 0:
			end = start.Add(checkDuration)
		}

		id := domain.ResourceID(args[0])
		result, err := app.Resolver.IsSlotFree(cmd.Context(), id, start, end)
		if err != nil {
			return fmt.Errorf("failed to check slot: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, map[string]any{
				"resource_id": id,
				"start":       start,
				"end":         end,
				"free":        result.Free,
				"conflicts":   periodViews(result.Conflicts),
				"degraded":    failureViews(result.Degraded),
			})
		}

		out := cmd.OutOrStdout()
		slot := domain.TimeInterval{Start: start, End: end}
		if result.Free {
			fmt.Fprintf(out, "FREE  %s  %s\n", id, cli.FormatInterval(slot, loc))
		} else {
			fmt.Fprintf(out, "BUSY  %s  %s\n", id, cli.FormatInterval(slot, loc))
			fmt.Fprintln(out, "\nConflicts:")
			printPeriods(out, result.Conflicts, loc)
		}
		printDegraded(out, result.Degraded)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkStart, "start", "s", "", "slot start (RFC 3339 or YYYY-MM-DD HH:MM)")
	checkCmd.Flags().StringVarP(&checkEnd, "end", "e", "", "slot end, exclusive")
	checkCmd.Flags().DurationVarP(&checkDuration, "duration", "d", 0, "slot length, e.g. 90m")
	_ = checkCmd.MarkFlagRequired("start")
	checkCmd.MarkFlagsMutuallyExclusive("end", "duration")
}
