package resource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/adapter/cli"
	"github.com/robpanda/panda-crm/adapter/cli/clitest"
	"github.com/robpanda/panda-crm/internal/app"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

var now = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
}

func setup(t *testing.T) *app.Container {
	t.Helper()
	_, c := clitest.Setup(t, clitest.Config(t), now)
	return c
}

func TestAddAndList(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	out, err := clitest.Run(t, Cmd, "", "add", "crew-1",
		"--name", "Roofing crew",
		"--calendar", "google:Crew1@example.com",
		"--calendar", "ics:https://example.com/crew1.ics",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved resource crew-1")
	assert.Contains(t, out, "Google Calendar")

	identity, err := c.Store.ResolveIdentity(ctx, "crew-1")
	require.NoError(t, err)
	assert.Equal(t, "Roofing crew", identity.Name)
	assert.True(t, identity.SyncEnabled)
	assert.Len(t, identity.Calendars, 2)

	_, err = clitest.Run(t, Cmd, "", "add", "crew-2", "--no-sync")
	require.NoError(t, err)

	out, err = clitest.Run(t, Cmd, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 resource(s)")
	assert.Contains(t, out, "[sync off]")

	cli.SetJSONOutput(true)
	out, err = clitest.Run(t, Cmd, "", "list")
	cli.SetJSONOutput(false)
	require.NoError(t, err)
	var listed []struct {
		ID        string   `json:"id"`
		Calendars []string `json:"calendars"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "crew-1", listed[0].ID)
	assert.Len(t, listed[0].Calendars, 2)

	_, err = clitest.Run(t, Cmd, "", "add", "crew-3", "--calendar", "outlook:crew3@example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestListEmpty(t *testing.T) {
	setup(t)
	out, err := clitest.Run(t, Cmd, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No resources")
}

func TestBlocks(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	require.NoError(t, c.Store.SaveResource(ctx, domain.ResourceIdentity{ResourceID: "crew-1"}))

	_, err := clitest.Run(t, Cmd, "", "block", "add", "crew-1",
		"--start", "2026-03-02 12:00", "--end", "2026-03-02 13:00",
		"--reason", "lunch", "--rrule", "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR",
	)
	require.NoError(t, err)

	check, err := c.Resolver.IsSlotFree(ctx, "crew-1", at(4, 12), at(4, 13))
	require.NoError(t, err)
	assert.False(t, check.Free)

	blocks, err := c.Store.ListBlocks(ctx, "crew-1", at(4, 0), at(5, 0))
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	out, err := clitest.Run(t, Cmd, "", "block", "list", "crew-1")
	require.NoError(t, err)
	assert.Contains(t, out, "lunch")
	assert.Contains(t, out, blocks[0].ID.String()[:8])

	out, err = clitest.Run(t, Cmd, "", "block", "remove", blocks[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Removed block")

	check, err = c.Resolver.IsSlotFree(ctx, "crew-1", at(4, 12), at(4, 13))
	require.NoError(t, err)
	assert.True(t, check.Free)

	t.Run("invalid rule", func(t *testing.T) {
		_, err := clitest.Run(t, Cmd, "", "block", "add", "crew-1",
			"--start", "2026-03-02 12:00", "--end", "2026-03-02 13:00", "--rrule", "FREQ=SOMETIMES")
		assert.Error(t, err)
	})

	t.Run("inverted", func(t *testing.T) {
		_, err := clitest.Run(t, Cmd, "", "block", "add", "crew-1",
			"--start", "2026-03-02 13:00", "--end", "2026-03-02 12:00")
		assert.ErrorIs(t, err, domain.ErrInvalidInterval)
	})

	t.Run("bad id", func(t *testing.T) {
		_, err := clitest.Run(t, Cmd, "", "block", "remove", "not-a-uuid")
		assert.ErrorContains(t, err, "invalid block ID")
	})
}

func TestBook(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	require.NoError(t, c.Store.SaveResource(ctx, domain.ResourceIdentity{ResourceID: "crew-1"}))

	id := uuid.New().String()
	_, err := clitest.Run(t, Cmd, "", "book", "crew-1", "--id", id,
		"--start", "2026-03-04 09:00", "--end", "2026-03-04 11:00", "--status", "confirmed")
	require.NoError(t, err)

	check, err := c.Resolver.IsSlotFree(ctx, "crew-1", at(4, 10), at(4, 11))
	require.NoError(t, err)
	assert.False(t, check.Free)

	out, err := clitest.Run(t, Cmd, "", "book", "crew-1", "--id", id,
		"--start", "2026-03-04 09:00", "--end", "2026-03-04 11:00", "--status", "CANCELLED")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: cancelled")

	check, err = c.Resolver.IsSlotFree(ctx, "crew-1", at(4, 10), at(4, 11))
	require.NoError(t, err)
	assert.True(t, check.Free)

	_, err = clitest.Run(t, Cmd, "", "book", "crew-1",
		"--start", "2026-03-04 09:00", "--end", "2026-03-04 11:00", "--status", "tentative")
	assert.ErrorContains(t, err, "invalid status")
}

func TestRequiresApp(t *testing.T) {
	cli.SetApp(nil)
	_, err := clitest.Run(t, Cmd, "", "list")
	assert.ErrorIs(t, err, cli.ErrNotInitialized)
}
