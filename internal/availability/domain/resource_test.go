package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalIdentity_Key(t *testing.T) {
	a := ExternalIdentity{Provider: ProviderGoogle, Account: "Crew-A@example.com"}
	b := ExternalIdentity{Provider: ProviderGoogle, Account: " crew-a@example.com"}
	c := ExternalIdentity{Provider: ProviderMicrosoft, Account: "crew-a@example.com"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, "google:crew-a@example.com", a.Key())
}

func TestExternalIdentity_KeyKeepsURLCase(t *testing.T) {
	for _, p := range []ProviderType{ProviderICS, ProviderCalDAV} {
		upper := ExternalIdentity{Provider: p, Account: "https://cal.example.com/Crew-A.ics"}
		lower := ExternalIdentity{Provider: p, Account: " https://cal.example.com/crew-a.ics"}

		assert.NotEqual(t, upper.Key(), lower.Key(), string(p))
		assert.Equal(t, string(p)+":https://cal.example.com/Crew-A.ics", upper.Key())
	}
}

func TestResourceIdentity_ExternalIdentities(t *testing.T) {
	shared := ExternalIdentity{Provider: ProviderGoogle, Account: "crew@example.com"}

	t.Run("sync disabled", func(t *testing.T) {
		r := ResourceIdentity{ResourceID: "r1", Calendars: []ExternalIdentity{shared}}
		assert.Empty(t, r.ExternalIdentities())
	})

	t.Run("duplicates removed", func(t *testing.T) {
		r := ResourceIdentity{
			ResourceID:  "r1",
			SyncEnabled: true,
			Calendars:   []ExternalIdentity{shared, shared, {Provider: ProviderICS, Account: "https://example.com/a.ics"}},
		}
		assert.Len(t, r.ExternalIdentities(), 2)
	})
}

func TestProviderType(t *testing.T) {
	assert.True(t, ProviderGoogle.RequiresOAuth())
	assert.True(t, ProviderMicrosoft.RequiresOAuth())
	assert.False(t, ProviderCalDAV.RequiresOAuth())
	assert.True(t, ProviderICS.IsValid())
	assert.False(t, ProviderType("outlook").IsValid())
	assert.Equal(t, "Google Calendar", ProviderGoogle.DisplayName())
}

func TestNewManualBlock(t *testing.T) {
	b, err := NewManualBlock("r1", at(9, 0), at(10, 0), "truck service")
	require.NoError(t, err)
	assert.False(t, b.IsRecurring())

	_, err = NewManualBlock("r1", at(10, 0), at(9, 0), "")
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestParseExternalIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    ExternalIdentity
		wantErr bool
	}{
		{in: "google:crew@example.com", want: ExternalIdentity{Provider: ProviderGoogle, Account: "crew@example.com"}},
		{in: "ics:https://example.com/crew.ics", want: ExternalIdentity{Provider: ProviderICS, Account: "https://example.com/crew.ics"}},
		{in: "Microsoft: lead@example.com", want: ExternalIdentity{Provider: ProviderMicrosoft, Account: "lead@example.com"}},
		{in: "crew@example.com", wantErr: true},
		{in: "outlook:crew@example.com", wantErr: true},
		{in: "caldav:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExternalIdentity(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
