package outbox_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/migrations"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/outbox"
)

func openStore(t *testing.T) *outbox.SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "outbox.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = migrations.Run(ctx, db)
	require.NoError(t, err)
	return outbox.NewSQLStore(db)
}

func TestSQLStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	mk := func(n int, corr string) *outbox.Message {
		msg, err := outbox.NewMessage("availability.source.degraded", corr, []byte(`{"n":`+string(rune('0'+n))+`}`), base.Add(time.Duration(n)*time.Second))
		require.NoError(t, err)
		return msg
	}
	first, second, third := mk(1, "corr-1"), mk(2, ""), mk(3, "")
	for _, m := range []*outbox.Message{second, third, first} {
		require.NoError(t, store.Append(ctx, m))
	}

	due, err := store.Due(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, first.ID, due[0].ID)
	assert.Equal(t, "corr-1", due[0].CorrelationID)
	assert.JSONEq(t, `{"n":1}`, string(due[0].Payload))
	assert.Equal(t, base.Add(time.Second), due[0].CreatedAt)
	assert.Equal(t, outbox.StatePending, due[0].State())

	require.NoError(t, store.MarkPublished(ctx, first.ID, base.Add(time.Minute)))
	require.NoError(t, store.Reschedule(ctx, second.ID, "broker down", base.Add(time.Hour)))
	require.NoError(t, store.Bury(ctx, third.ID, "poison", base.Add(time.Minute)))

	due, err = store.Due(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "published, buried and backed-off messages are not due")

	due, err = store.Due(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second.ID, due[0].ID)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "broker down", due[0].LastError)
	assert.Equal(t, base.Add(time.Hour), due[0].NextAttemptAt)

	purged, err := store.Purge(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestSQLStore_DueRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	for range 5 {
		msg, err := outbox.NewMessage("k", "", []byte(`{}`), now)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, msg))
	}

	due, err := store.Due(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	// Zero is treated as one rather than "no limit".
	due, err = store.Due(ctx, now, 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
