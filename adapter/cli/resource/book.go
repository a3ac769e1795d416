package resource

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var (
	bookID     string
	bookStart  string
	bookEnd    string
	bookStatus string
)

var bookCmd = &cobra.Command{
	Use:   "book <resource-id>",
	Short: "Record an internal booking",
	Long: `Record or update an internal CRM appointment for a resource. Pass --id
to update an existing booking, for example to cancel it.

Statuses: scheduled, confirmed, cancelled

Examples:
  panda-availability resource book crew-17 --start "2026-03-02 09:00" --end "2026-03-02 11:00"
  panda-availability resource book crew-17 --id 3f0c... --start "2026-03-02 09:00" --end "2026-03-02 11:00" --status cancelled`,
	Aliases: []string{"booking"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		loc := app.Location()
		start, err := cli.ParseTime(bookStart, loc)
		if err != nil {
			return err
		}
		end, err := cli.ParseTime(bookEnd, loc)
		if err != nil {
			return err
		}

		status := strings.ToLower(bookStatus)
		switch status {
		case domain.BookingScheduled, domain.BookingConfirmed, domain.BookingCancelled:
		default:
			return fmt.Errorf("invalid status: %s (valid: scheduled, confirmed, cancelled)", bookStatus)
		}

		booking := domain.Booking{
			ID:         uuid.New(),
			ResourceID: domain.ResourceID(args[0]),
			Start:      start,
			End:        end,
			Status:     status,
		}
		if bookID != "" {
			if booking.ID, err = uuid.Parse(bookID); err != nil {
				return fmt.Errorf("invalid booking ID: %w", err)
			}
		}

		if err := app.Bookings.SaveBooking(cmd.Context(), booking); err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Booking saved for %s\n", booking.ResourceID)
		fmt.Fprintf(out, "  ID: %s\n", booking.ID)
		fmt.Fprintf(out, "  When: %s\n", cli.FormatInterval(domain.TimeInterval{Start: start, End: end}, loc))
		fmt.Fprintf(out, "  Status: %s\n", booking.Status)
		return nil
	},
}

func init() {
	bookCmd.Flags().StringVar(&bookID, "id", "", "existing booking ID to update")
	bookCmd.Flags().StringVarP(&bookStart, "start", "s", "", "booking start (RFC 3339 or YYYY-MM-DD HH:MM)")
	bookCmd.Flags().StringVarP(&bookEnd, "end", "e", "", "booking end, exclusive")
	bookCmd.Flags().StringVar(&bookStatus, "status", domain.BookingScheduled, "scheduled, confirmed or cancelled")
	_ = bookCmd.MarkFlagRequired("start")
	_ = bookCmd.MarkFlagRequired("end")
}
