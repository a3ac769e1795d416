package availability

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	bucketsWindow      cli.WindowFlags
	bucketsGranularity string
	bucketsResource    string
)

type bucketView struct {
	Label string        `json:"label"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
	Busy  time.Duration `json:"busy_ns,omitempty"`
}

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Split a window into reporting buckets",
	Long: `Split a date range into day, week, month or quarter buckets. With
"auto" the granularity follows the window length; "fixed" yields appointment
slots inside working hours instead.

With --resource each bucket also shows how much of it the resource is busy.

Examples:
  panda-availability availability buckets --range thisQuarter
  panda-availability availability buckets --range last30Days --granularity week --resource crew-17`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		granularity, err := domain.ParseGranularity(bucketsGranularity)
		if err != nil {
			return err
		}
		w, err := bucketsWindow.Resolve(app, cmd)
		if err != nil {
			return err
		}

		var busy []domain.BusyPeriod
		if bucketsResource != "" {
			view, err := app.Resolver.BusyPeriods(cmd.Context(), domain.ResourceID(bucketsResource), w.Start, w.End)
			if err != nil {
				return fmt.Errorf("failed to load busy periods: %w", err)
			}
			busy = view.Periods
		}

		buckets := make([]bucketView, 0)
		for slot := range app.Resolver.Generator().Generate(w.Start, w.End, granularity) {
			buckets = append(buckets, bucketView{
				Label: slot.Label,
				Start: slot.Start,
				End:   slot.End,
				Busy:  busyWithin(busy, slot.TimeInterval),
			})
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, buckets)
		}

		loc := app.Location()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Window: %s\n", cli.FormatInterval(w, loc))
		cli.Rule(out, 50)
		for _, b := range buckets {
			line := fmt.Sprintf("  %-12s %s", b.Label, cli.FormatInterval(domain.TimeInterval{Start: b.Start, End: b.End}, loc))
			if bucketsResource != "" {
				line += fmt.Sprintf("  busy %s", cli.FormatDuration(b.Busy))
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "%d buckets\n", len(buckets))
		return nil
	},
}

// busyWithin sums the parts of merged busy periods that fall inside slot.
func busyWithin(busy []domain.BusyPeriod, slot domain.TimeInterval) time.Duration {
	var total time.Duration
	for _, p := range busy {
		if !p.Overlaps(slot) {
			continue
		}
		total += p.Clamp(slot).Duration()
	}
	return total
}

func init() {
	bucketsWindow.Register(bucketsCmd, domain.PresetThisMonth)
	bucketsCmd.Flags().StringVarP(&bucketsGranularity, "granularity", "g", string(domain.GranularityAuto), "auto, day, week, month, quarter or fixed")
	bucketsCmd.Flags().StringVar(&bucketsResource, "resource", "", "report busy time per bucket for this resource")
}
