package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/robpanda/panda-crm/adapter/cli.Version=...".
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

// ReadBuildInfo returns the linker-set values, falling back to the VCS
// stamp the Go toolchain embeds when they are unset.
func ReadBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := ReadBuildInfo()
		if JSONOutput() {
			return PrintJSON(cmd, info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "panda-availability %s (%s)\n", info.Version, info.GoVersion)
		if info.Commit != "" {
			suffix := ""
			if info.Modified {
				suffix = " (modified)"
			}
			fmt.Fprintf(out, "commit %s%s\n", info.Commit, suffix)
		}
		if info.BuildDate != "" {
			fmt.Fprintf(out, "built  %s\n", info.BuildDate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
