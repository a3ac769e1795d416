// Package resource manages the data behind availability answers: crew
// resources and their calendar links, manual blocks and internal bookings.
package resource

import (
	"github.com/spf13/cobra"
)

// Cmd is the resource command group
var Cmd = &cobra.Command{
	Use:     "resource",
	Short:   "Manage crew resources",
	Long:    `Register crew resources, link their external calendars and record blocks and bookings.`,
	Aliases: []string{"res", "crew"},
}

func init() {
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(blockCmd)
	Cmd.AddCommand(bookCmd)
}
