package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = migrations.Run(ctx, db)
	require.NoError(t, err)
	return NewStore(db)
}

func at(day, h, m int) time.Time {
	return time.Date(2024, time.March, day, h, m, 0, 0, time.UTC)
}

func TestStore_Resources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	crew := domain.ResourceIdentity{
		ResourceID:  "crew-1",
		Name:        "Roofing crew",
		SyncEnabled: true,
		Calendars: []domain.ExternalIdentity{
			{Provider: domain.ProviderGoogle, Account: "crew1@example.com"},
			{Provider: domain.ProviderGoogle, Account: "CREW1@example.com"},
			{Provider: domain.ProviderICS, Account: "https://example.com/crew1.ics"},
		},
	}
	require.NoError(t, s.SaveResource(ctx, crew))

	got, err := s.ResolveIdentity(ctx, "crew-1")
	require.NoError(t, err)
	assert.Equal(t, "Roofing crew", got.Name)
	assert.True(t, got.SyncEnabled)
	assert.Len(t, got.Calendars, 2)

	crew.SyncEnabled = false
	crew.Calendars = crew.Calendars[:1]
	require.NoError(t, s.SaveResource(ctx, crew))
	got, err = s.ResolveIdentity(ctx, "crew-1")
	require.NoError(t, err)
	assert.False(t, got.SyncEnabled)
	assert.Equal(t, []domain.ExternalIdentity{{Provider: domain.ProviderGoogle, Account: "crew1@example.com"}}, got.Calendars)

	require.NoError(t, s.SaveResource(ctx, domain.ResourceIdentity{ResourceID: "crew-0", Name: "Gutters"}))
	all, err := s.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ResourceID("crew-0"), all[0].ResourceID)
	assert.Empty(t, all[0].Calendars)
	assert.Len(t, all[1].Calendars, 1)

	_, err = s.ResolveIdentity(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUnknownResource)

	err = s.SaveResource(ctx, domain.ResourceIdentity{
		ResourceID: "bad",
		Calendars:  []domain.ExternalIdentity{{Provider: "exchange2003", Account: "x"}},
	})
	assert.Error(t, err)
}

func TestStore_Bookings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ResourceID: "crew-1", Start: at(4, 9, 0), End: at(4, 10, 0)}))
	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ResourceID: "crew-1", Start: at(4, 13, 0), End: at(4, 14, 0), Status: domain.BookingCancelled}))
	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ResourceID: "crew-1", Start: at(4, 7, 0), End: at(4, 8, 0)}))
	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ResourceID: "crew-2", Start: at(4, 9, 0), End: at(4, 10, 0)}))

	got, err := s.ListBookings(ctx, "crew-1", at(4, 8, 0), at(4, 18, 0))
	require.NoError(t, err)
	assert.Equal(t, []domain.TimeInterval{{Start: at(4, 9, 0), End: at(4, 10, 0)}}, got)

	empty, err := s.ListBookings(ctx, "crew-3", at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	id := uuid.New()
	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ID: id, ResourceID: "crew-3", Start: at(5, 9, 0), End: at(5, 10, 0)}))
	require.NoError(t, s.SaveBooking(ctx, domain.Booking{ID: id, ResourceID: "crew-3", Start: at(5, 9, 0), End: at(5, 10, 0), Status: domain.BookingCancelled}))
	got, err = s.ListBookings(ctx, "crew-3", at(5, 0, 0), at(6, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.SaveBooking(ctx, domain.Booking{ResourceID: "crew-1", Start: at(4, 10, 0), End: at(4, 9, 0)}), domain.ErrInvalidInterval)
}

func TestStore_ManualBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oneOff, err := domain.NewManualBlock("crew-1", at(4, 12, 0), at(4, 13, 0), "lunch")
	require.NoError(t, err)
	require.NoError(t, s.SaveBlock(ctx, *oneOff))

	old, err := domain.NewManualBlock("crew-1", at(1, 12, 0), at(1, 13, 0), "past")
	require.NoError(t, err)
	require.NoError(t, s.SaveBlock(ctx, *old))

	weekly, err := domain.NewManualBlock("crew-1", at(1, 8, 0), at(1, 9, 0), "toolbox talk")
	require.NoError(t, err)
	weekly.RRule = "FREQ=WEEKLY"
	require.NoError(t, s.SaveBlock(ctx, *weekly))

	future, err := domain.NewManualBlock("crew-1", at(20, 8, 0), at(20, 9, 0), "later")
	require.NoError(t, err)
	future.RRule = "FREQ=DAILY"
	require.NoError(t, s.SaveBlock(ctx, *future))

	got, err := s.ListBlocks(ctx, "crew-1", at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, weekly.ID, got[0].ID)
	assert.Equal(t, "FREQ=WEEKLY", got[0].RRule)
	assert.Equal(t, oneOff.ID, got[1].ID)
	assert.Equal(t, "lunch", got[1].Reason)
	assert.Equal(t, at(4, 12, 0), got[1].Start)

	require.NoError(t, s.DeleteBlock(ctx, oneOff.ID))
	require.NoError(t, s.DeleteBlock(ctx, uuid.New()))
	got, err = s.ListBlocks(ctx, "crew-1", at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_Credentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	identity := domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: "Crew@Example.com"}

	_, err := s.FindCredential(ctx, identity)
	assert.ErrorIs(t, err, domain.ErrNoCredentials)

	expiry := at(4, 10, 0)
	require.NoError(t, s.SaveCredential(ctx, credentials.StoredCredential{
		Provider:    domain.ProviderGoogle,
		Account:     "crew@example.com",
		AccessToken: []byte{1, 2, 3},
		TokenType:   "Bearer",
		Expiry:      expiry,
	}))
	got, err := s.FindCredential(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Equal(t, expiry, got.Expiry)

	require.NoError(t, s.SaveCredential(ctx, credentials.StoredCredential{
		Provider:    domain.ProviderGoogle,
		Account:     "crew@example.com",
		AccessToken: []byte{9},
	}))
	got, err = s.FindCredential(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got.AccessToken)
	assert.True(t, got.Expiry.IsZero())
}

func TestStore_CredentialServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	enc, err := credentials.NewAESGCMFromBase64Key("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	require.NoError(t, err)
	svc, err := credentials.NewService(s, enc, nil)
	require.NoError(t, err)

	identity := domain.ExternalIdentity{Provider: domain.ProviderCalDAV, Account: "crew@fastmail.com"}
	require.NoError(t, svc.StoreBasicAuth(ctx, identity, credentials.BasicAuth{
		ServerURL: "https://caldav.fastmail.com",
		Username:  "crew",
		Password:  "app-password",
	}))
	auth, err := svc.BasicAuth(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, "app-password", auth.Password)
	assert.Equal(t, "crew", auth.Username)
}
