// Package clitest wires a CLI app against a throwaway SQLite database for
// command tests.
package clitest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/pkg/config"
)

// EncryptionKey is a fixed 32-byte test key.
const EncryptionKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

// Config returns a local-mode configuration rooted in a temp directory.
func Config(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:            "test",
		EncryptionKey:     EncryptionKey,
		DatabaseDriver:    "sqlite",
		SQLitePath:        filepath.Join(t.TempDir(), "availability.db"),
		CacheEnabled:      true,
		CacheTTL:          time.Minute,
		ProviderTimeout:   time.Second,
		ICSRequestTimeout: time.Second,
		FetchConcurrency:  4,
		CredentialTTL:     time.Minute,
		WarmupWindow:      24 * time.Hour,
		Scheduling:        config.DefaultScheduling(),
	}
}

// Setup builds a container from cfg, installs it as the global CLI app with
// a clock fixed at now and restores everything when the test ends.
func Setup(t *testing.T, cfg *config.Config, now time.Time) (*cli.App, *app.Container) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.NewContainer(context.Background(), cfg, logger)
	require.NoError(t, err)

	a := cli.FromContainer(c)
	a.SetClock(func() time.Time { return now })
	cli.SetApp(a)
	cli.SetLogger(logger)
	t.Cleanup(func() {
		cli.SetApp(nil)
		cli.SetJSONOutput(false)
		c.Close()
	})
	return a, c
}

// Run executes cmd with args and returns what it printed. Flag values from
// earlier runs are reset first since commands keep them in package state.
func Run(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	reset(cmd)
	var out bytes.Buffer
	cmd.SilenceUsage = true
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func reset(cmd *cobra.Command) {
	visit := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(visit)
	cmd.PersistentFlags().VisitAll(visit)
	for _, sub := range cmd.Commands() {
		reset(sub)
	}
}
