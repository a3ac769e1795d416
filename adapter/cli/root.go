package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robpanda/panda-crm/pkg/observability"
)

var (
	verbose    bool
	outputJSON bool
	logger     *slog.Logger
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panda-availability",
	Short: "Panda CRM crew availability",
	Long: `panda-availability answers scheduling questions for crew members by
combining internal bookings, manual blocks and connected external calendars.

	It can check a single slot, list free appointment slots, show merged busy
	periods for one or many resources and manage the data behind them.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		info := commandContext{
			correlationID: uuid.New(),
			startedAt:     time.Now(),
		}
		ctx = observability.WithCorrelationID(ctx, info.correlationID.String())
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.DebugContext(cmd.Context(), "command start",
			"command", cmd.CommandPath(),
		)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.DebugContext(cmd.Context(), "command end",
			"command", cmd.CommandPath(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}

// Logger returns the CLI logger.
func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Verbose reports whether --verbose was given.
func Verbose() bool {
	return verbose
}

// JSONOutput reports whether --json was given.
func JSONOutput() bool {
	return outputJSON
}

// SetJSONOutput overrides the --json flag.
func SetJSONOutput(on bool) {
	outputJSON = on
}

// CorrelationID returns the ID assigned to the running command.
func CorrelationID(cmd *cobra.Command) string {
	return observability.CorrelationIDFromContext(cmd.Context())
}

// Root returns the root command.
func Root() *cobra.Command {
	return rootCmd
}
