package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses RFC 3339 or a local "YYYY-MM-DD[ HH:MM]" in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use RFC 3339 or YYYY-MM-DD HH:MM", s)
}

// WindowFlags are the --range, --from and --to flags shared by window queries.
type WindowFlags struct {
	Range string
	From  string
	To    string
}

// Register adds the flags to cmd. defaultRange applies when neither a range
// nor explicit bounds are given.
func (w *WindowFlags) Register(cmd *cobra.Command, defaultRange string) {
	cmd.Flags().StringVarP(&w.Range, "range", "r", defaultRange, "date range preset (see 'availability ranges')")
	cmd.Flags().StringVar(&w.From, "from", "", "window start (RFC 3339 or YYYY-MM-DD HH:MM)")
	cmd.Flags().StringVar(&w.To, "to", "", "window end, exclusive")
}

// Resolve returns the query window. Explicit --from/--to win over --range;
// a "custom" range treats them as whole days.
func (w *WindowFlags) Resolve(app *App, cmd *cobra.Command) (domain.TimeInterval, error) {
	loc := app.Location()
	var from, to time.Time
	var err error
	if w.From != "" {
		if from, err = ParseTime(w.From, loc); err != nil {
			return domain.TimeInterval{}, err
		}
	}
	if w.To != "" {
		if to, err = ParseTime(w.To, loc); err != nil {
			return domain.TimeInterval{}, err
		}
	}

	rangeSet := cmd.Flags().Changed("range")
	if !from.IsZero() && !to.IsZero() && (!rangeSet || w.Range != domain.PresetCustom) {
		return domain.NewTimeInterval(from, to)
	}

	r, err := domain.ParseDateRange(w.Range, domain.DateRangeOptions{
		Now:       app.Now(),
		Location:  loc,
		WeekStart: app.Scheduling.WeekStart,
		From:      from,
		To:        to,
	})
	if err != nil {
		return domain.TimeInterval{}, err
	}
	return r.Interval(), nil
}

// PrintJSON writes v as indented JSON to the command's output.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatDuration renders d as "1h 30m", "2h" or "45m".
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 && minutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatInterval renders an interval in loc, dropping the end date when it
// matches the start date.
func FormatInterval(i domain.TimeInterval, loc *time.Location) string {
	start, end := i.Start.In(loc), i.End.In(loc)
	if start.Format("2006-01-02") == end.Format("2006-01-02") {
		return fmt.Sprintf("%s - %s", start.Format("Mon Jan 2 15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s - %s", start.Format("Mon Jan 2 15:04"), end.Format("Mon Jan 2 15:04"))
}

// Rule prints a horizontal separator.
func Rule(w io.Writer, n int) {
	fmt.Fprintln(w, strings.Repeat("-", n))
}
