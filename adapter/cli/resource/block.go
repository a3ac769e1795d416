package resource

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/recurrence"
)

var (
	blockStart  string
	blockEnd    string
	blockReason string
	blockRRule  string
	blockWindow cli.WindowFlags
)

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manage manual blocks",
	Long:  `Manual blocks mark a resource unavailable, once or on a recurring schedule.`,
}

var blockAddCmd = &cobra.Command{
	Use:   "add <resource-id>",
	Short: "Block time for a resource",
	Long: `Block time for a resource. With --rrule the block repeats following an
RFC 5545 recurrence rule, anchored at --start.

Examples:
  panda-availability resource block add crew-17 --start "2026-03-02 12:00" --end "2026-03-02 13:00" --reason lunch --rrule "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
  panda-availability resource block add crew-17 --start 2026-03-09 --end 2026-03-14 --reason vacation`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		loc := app.Location()
		start, err := cli.ParseTime(blockStart, loc)
		if err != nil {
			return err
		}
		end, err := cli.ParseTime(blockEnd, loc)
		if err != nil {
			return err
		}

		block, err := domain.NewManualBlock(domain.ResourceID(args[0]), start, end, blockReason)
		if err != nil {
			return err
		}
		if blockRRule != "" {
			if err := recurrence.Validate(blockRRule, start); err != nil {
				return err
			}
			block.RRule = blockRRule
		}

		if err := app.Blocks.SaveBlock(cmd.Context(), *block); err != nil {
			return fmt.Errorf("failed to save block: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Blocked %s\n", block.ResourceID)
		fmt.Fprintf(out, "  ID: %s\n", block.ID)
		fmt.Fprintf(out, "  When: %s\n", cli.FormatInterval(domain.TimeInterval{Start: start, End: end}, loc))
		if block.IsRecurring() {
			fmt.Fprintf(out, "  Repeats: %s\n", block.RRule)
		}
		if block.Reason != "" {
			fmt.Fprintf(out, "  Reason: %s\n", block.Reason)
		}
		return nil
	},
}

var blockListCmd = &cobra.Command{
	Use:     "list <resource-id>",
	Short:   "List manual blocks in a window",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		w, err := blockWindow.Resolve(app, cmd)
		if err != nil {
			return err
		}
		blocks, err := app.Blocks.ListBlocks(cmd.Context(), domain.ResourceID(args[0]), w.Start, w.End)
		if err != nil {
			return fmt.Errorf("failed to list blocks: %w", err)
		}

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(blocks))
			for _, b := range blocks {
				views = append(views, map[string]any{
					"id":     b.ID,
					"start":  b.Start,
					"end":    b.End,
					"rrule":  b.RRule,
					"reason": b.Reason,
				})
			}
			return cli.PrintJSON(cmd, views)
		}

		loc := app.Location()
		out := cmd.OutOrStdout()
		if len(blocks) == 0 {
			fmt.Fprintln(out, "No manual blocks in window.")
			return nil
		}
		for _, b := range blocks {
			fmt.Fprintf(out, "%s  %s", b.ID.String()[:8], cli.FormatInterval(domain.TimeInterval{Start: b.Start, End: b.End}, loc))
			if b.IsRecurring() {
				fmt.Fprintf(out, "  (%s)", b.RRule)
			}
			if b.Reason != "" {
				fmt.Fprintf(out, "  %s", b.Reason)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var blockRemoveCmd = &cobra.Command{
	Use:     "remove <block-id>",
	Short:   "Remove a manual block",
	Aliases: []string{"rm", "delete"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid block ID: %w", err)
		}
		if err := app.Blocks.DeleteBlock(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to remove block: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed block %s\n", id)
		return nil
	},
}

func init() {
	blockAddCmd.Flags().StringVarP(&blockStart, "start", "s", "", "block start (RFC 3339 or YYYY-MM-DD HH:MM)")
	blockAddCmd.Flags().StringVarP(&blockEnd, "end", "e", "", "block end, exclusive")
	blockAddCmd.Flags().StringVar(&blockReason, "reason", "", "why the resource is unavailable")
	blockAddCmd.Flags().StringVar(&blockRRule, "rrule", "", "RFC 5545 recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO")
	_ = blockAddCmd.MarkFlagRequired("start")
	_ = blockAddCmd.MarkFlagRequired("end")

	blockWindow.Register(blockListCmd, domain.PresetNext30Days)

	blockCmd.AddCommand(blockAddCmd)
	blockCmd.AddCommand(blockListCmd)
	blockCmd.AddCommand(blockRemoveCmd)
}
