// Package persistence stores resources, bookings, manual blocks and
// calendar credentials in SQLite or PostgreSQL.
//
// Instants are stored as Unix milliseconds so the same range predicates
// work on both drivers.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
)

// ErrExecQuery wraps driver failures.
var ErrExecQuery = errors.New("exec query")

// Store implements the availability repositories over one database.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// ResolveIdentity returns a resource with its calendar links.
func (s *Store) ResolveIdentity(ctx context.Context, id domain.ResourceID) (*domain.ResourceIdentity, error) {
	identity := domain.ResourceIdentity{ResourceID: id}
	err := s.db.Builder().
		Select("name", "sync_enabled").
		From("resources").
		Where(sq.Eq{"id": string(id)}).
		QueryRowContext(ctx).
		Scan(&identity.Name, &identity.SyncEnabled)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownResource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ResolveIdentity: %v", ErrExecQuery, err)
	}

	calendars, err := s.calendars(ctx, []string{string(id)})
	if err != nil {
		return nil, err
	}
	identity.Calendars = calendars[string(id)]
	return &identity, nil
}

func (s *Store) calendars(ctx context.Context, ids []string) (map[string][]domain.ExternalIdentity, error) {
	rows, err := s.db.Builder().
		Select("resource_id", "provider", "account").
		From("resource_calendars").
		Where(sq.Eq{"resource_id": ids}).
		OrderBy("resource_id", "provider", "account").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: calendars: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	out := make(map[string][]domain.ExternalIdentity, len(ids))
	for rows.Next() {
		var resourceID, provider, account string
		if err := rows.Scan(&resourceID, &provider, &account); err != nil {
			return nil, err
		}
		out[resourceID] = append(out[resourceID], domain.ExternalIdentity{
			Provider: domain.ProviderType(provider),
			Account:  account,
		})
	}
	return out, rows.Err()
}

// SaveResource upserts a resource and replaces its calendar links.
func (s *Store) SaveResource(ctx context.Context, identity domain.ResourceIdentity) error {
	if identity.ResourceID == "" {
		return errors.New("resource id is required")
	}
	for _, cal := range identity.Calendars {
		if !cal.Provider.IsValid() {
			return fmt.Errorf("unknown calendar provider %q", cal.Provider)
		}
	}
	now := toMillis(s.now())

	return s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		b := s.db.BuilderFor(tx)
		_, err := b.Insert("resources").
			Columns("id", "name", "sync_enabled", "created_at", "updated_at").
			Values(string(identity.ResourceID), identity.Name, identity.SyncEnabled, now, now).
			Suffix("ON CONFLICT (id) DO UPDATE SET name = excluded.name, sync_enabled = excluded.sync_enabled, updated_at = excluded.updated_at").
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("%w: SaveResource: %v", ErrExecQuery, err)
		}

		_, err = b.Delete("resource_calendars").
			Where(sq.Eq{"resource_id": string(identity.ResourceID)}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("%w: SaveResource calendars: %v", ErrExecQuery, err)
		}

		seen := make(map[string]struct{}, len(identity.Calendars))
		for _, cal := range identity.Calendars {
			if _, dup := seen[cal.Key()]; dup {
				continue
			}
			seen[cal.Key()] = struct{}{}
			_, err = b.Insert("resource_calendars").
				Columns("resource_id", "provider", "account").
				Values(string(identity.ResourceID), cal.Provider.String(), cal.Account).
				ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("%w: SaveResource calendar %s: %v", ErrExecQuery, cal, err)
			}
		}
		return nil
	})
}

// ListResources returns every resource ordered by ID.
func (s *Store) ListResources(ctx context.Context) ([]domain.ResourceIdentity, error) {
	rows, err := s.db.Builder().
		Select("id", "name", "sync_enabled").
		From("resources").
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ListResources: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var (
		out []domain.ResourceIdentity
		ids []string
	)
	for rows.Next() {
		var r domain.ResourceIdentity
		var id string
		if err := rows.Scan(&id, &r.Name, &r.SyncEnabled); err != nil {
			return nil, err
		}
		r.ResourceID = domain.ResourceID(id)
		out = append(out, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	calendars, err := s.calendars(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Calendars = calendars[string(out[i].ResourceID)]
	}
	return out, nil
}

// ListBookings returns non-cancelled bookings overlapping [start, end).
func (s *Store) ListBookings(ctx context.Context, id domain.ResourceID, start, end time.Time) ([]domain.TimeInterval, error) {
	rows, err := s.db.Builder().
		Select("starts_at", "ends_at").
		From("bookings").
		Where(sq.Eq{"resource_id": string(id)}).
		Where(sq.NotEq{"status": domain.BookingCancelled}).
		Where(sq.Lt{"starts_at": toMillis(end)}).
		Where(sq.Gt{"ends_at": toMillis(start)}).
		OrderBy("starts_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ListBookings: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	out := make([]domain.TimeInterval, 0)
	for rows.Next() {
		var startMs, endMs int64
		if err := rows.Scan(&startMs, &endMs); err != nil {
			return nil, err
		}
		out = append(out, domain.TimeInterval{Start: fromMillis(startMs), End: fromMillis(endMs)})
	}
	return out, rows.Err()
}

// SaveBooking upserts a booking.
func (s *Store) SaveBooking(ctx context.Context, booking domain.Booking) error {
	if !booking.Start.Before(booking.End) {
		return domain.ErrInvalidInterval
	}
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.Status == "" {
		booking.Status = domain.BookingScheduled
	}
	_, err := s.db.Builder().
		Insert("bookings").
		Columns("id", "resource_id", "starts_at", "ends_at", "status", "created_at").
		Values(booking.ID.String(), string(booking.ResourceID), toMillis(booking.Start), toMillis(booking.End), booking.Status, toMillis(s.now())).
		Suffix("ON CONFLICT (id) DO UPDATE SET resource_id = excluded.resource_id, starts_at = excluded.starts_at, ends_at = excluded.ends_at, status = excluded.status").
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: SaveBooking: %v", ErrExecQuery, err)
	}
	return nil
}

// ListBlocks returns one-off blocks overlapping [start, end) and every
// recurring block whose series starts before end.
func (s *Store) ListBlocks(ctx context.Context, id domain.ResourceID, start, end time.Time) ([]domain.ManualBlock, error) {
	rows, err := s.db.Builder().
		Select("id", "starts_at", "ends_at", "rrule", "reason").
		From("manual_blocks").
		Where(sq.Eq{"resource_id": string(id)}).
		Where(sq.Lt{"starts_at": toMillis(end)}).
		Where(sq.Or{
			sq.NotEq{"rrule": ""},
			sq.Gt{"ends_at": toMillis(start)},
		}).
		OrderBy("starts_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ListBlocks: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	out := make([]domain.ManualBlock, 0)
	for rows.Next() {
		var (
			rawID          string
			startMs, endMs int64
			block          = domain.ManualBlock{ResourceID: id}
		)
		if err := rows.Scan(&rawID, &startMs, &endMs, &block.RRule, &block.Reason); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("manual block %q: %w", rawID, err)
		}
		block.ID = parsed
		block.Start = fromMillis(startMs)
		block.End = fromMillis(endMs)
		out = append(out, block)
	}
	return out, rows.Err()
}

// SaveBlock upserts a manual block.
func (s *Store) SaveBlock(ctx context.Context, block domain.ManualBlock) error {
	if !block.Start.Before(block.End) {
		return domain.ErrInvalidInterval
	}
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	_, err := s.db.Builder().
		Insert("manual_blocks").
		Columns("id", "resource_id", "starts_at", "ends_at", "rrule", "reason", "created_at").
		Values(block.ID.String(), string(block.ResourceID), toMillis(block.Start), toMillis(block.End), block.RRule, block.Reason, toMillis(s.now())).
		Suffix("ON CONFLICT (id) DO UPDATE SET starts_at = excluded.starts_at, ends_at = excluded.ends_at, rrule = excluded.rrule, reason = excluded.reason").
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: SaveBlock: %v", ErrExecQuery, err)
	}
	return nil
}

// DeleteBlock removes a manual block. Deleting a missing block is not an error.
func (s *Store) DeleteBlock(ctx context.Context, blockID uuid.UUID) error {
	_, err := s.db.Builder().
		Delete("manual_blocks").
		Where(sq.Eq{"id": blockID.String()}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: DeleteBlock: %v", ErrExecQuery, err)
	}
	return nil
}

// SaveCredential upserts an encrypted credential.
func (s *Store) SaveCredential(ctx context.Context, cred credentials.StoredCredential) error {
	updated := cred.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	var expiry int64
	if !cred.Expiry.IsZero() {
		expiry = toMillis(cred.Expiry)
	}
	_, err := s.db.Builder().
		Insert("calendar_credentials").
		Columns("provider", "account", "access_token", "refresh_token", "token_type", "expiry",
			"server_url", "username", "password", "calendar_path", "updated_at").
		Values(cred.Provider.String(), cred.Account, cred.AccessToken, cred.RefreshToken, cred.TokenType, expiry,
			cred.ServerURL, cred.Username, cred.Password, cred.CalendarPath, toMillis(updated)).
		Suffix(`ON CONFLICT (provider, account) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			server_url = excluded.server_url,
			username = excluded.username,
			password = excluded.password,
			calendar_path = excluded.calendar_path,
			updated_at = excluded.updated_at`).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: SaveCredential: %v", ErrExecQuery, err)
	}
	return nil
}

// FindCredential loads the credential for an identity.
func (s *Store) FindCredential(ctx context.Context, identity domain.ExternalIdentity) (*credentials.StoredCredential, error) {
	cred := credentials.StoredCredential{Provider: identity.Provider}
	var expiry, updated int64
	err := s.db.Builder().
		Select("account", "access_token", "refresh_token", "token_type", "expiry",
			"server_url", "username", "password", "calendar_path", "updated_at").
		From("calendar_credentials").
		Where(sq.Eq{"provider": identity.Provider.String()}).
		Where(sq.Eq{"account": normalizeAccount(identity.Account)}).
		QueryRowContext(ctx).
		Scan(&cred.Account, &cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &expiry,
			&cred.ServerURL, &cred.Username, &cred.Password, &cred.CalendarPath, &updated)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoCredentials, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: FindCredential: %v", ErrExecQuery, err)
	}
	if expiry != 0 {
		cred.Expiry = fromMillis(expiry)
	}
	cred.UpdatedAt = fromMillis(updated)
	return &cred, nil
}
