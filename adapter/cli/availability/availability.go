// Package availability holds the read-side commands: slot checks, free slots,
// busy periods and the range and bucket helpers behind them.
package availability

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// Cmd is the availability command group
var Cmd = &cobra.Command{
	Use:     "availability",
	Short:   "Query crew availability",
	Long:    `Check slots, list free appointment slots and inspect merged busy periods.`,
	Aliases: []string{"avail"},
}

func init() {
	Cmd.AddCommand(checkCmd)
	Cmd.AddCommand(freeCmd)
	Cmd.AddCommand(busyCmd)
	Cmd.AddCommand(batchCmd)
	Cmd.AddCommand(bucketsCmd)
	Cmd.AddCommand(rangesCmd)
}

type periodView struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

type failureView struct {
	Source     string `json:"source"`
	ResourceID string `json:"resource_id,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Error      string `json:"error"`
}

func periodViews(periods []domain.BusyPeriod) []periodView {
	out := make([]periodView, 0, len(periods))
	for _, p := range periods {
		out = append(out, periodView{Start: p.Start, End: p.End, Source: string(p.Source)})
	}
	return out
}

func failureViews(failures []application.SourceFailure) []failureView {
	out := make([]failureView, 0, len(failures))
	for _, f := range failures {
		v := failureView{
			Source:     f.Source,
			ResourceID: string(f.ResourceID),
			Identity:   f.Identity,
		}
		if f.Err != nil {
			v.Error = f.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

func printPeriods(w io.Writer, periods []domain.BusyPeriod, loc *time.Location) {
	if len(periods) == 0 {
		fmt.Fprintln(w, "  No busy periods.")
		return
	}
	for _, p := range periods {
		fmt.Fprintf(w, "  %s  [%s]\n", cli.FormatInterval(p.TimeInterval, loc), p.Source)
	}
}

func printDegraded(w io.Writer, failures []application.SourceFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\nWarning: %d source(s) unavailable, results may be incomplete:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  - %s\n", f.Error())
	}
}
