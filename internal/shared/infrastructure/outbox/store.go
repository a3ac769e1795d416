package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
)

const table = "outbox"

var columns = []string{
	"id", "routing_key", "correlation_id", "payload", "created_at",
	"attempts", "next_attempt_at", "last_error", "published_at", "dead_at",
}

// SQLStore is the Store on the shared database. Times are Unix milliseconds.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, msg *Message) error {
	_, err := s.db.Builder().
		Insert(table).
		Columns("id", "routing_key", "correlation_id", "payload", "created_at", "next_attempt_at").
		Values(msg.ID.String(), msg.RoutingKey, msg.CorrelationID, string(msg.Payload),
			msg.CreatedAt.UnixMilli(), msg.CreatedAt.UnixMilli()).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("append outbox message: %w", err)
	}
	return nil
}

func (s *SQLStore) Due(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	rows, err := s.db.Builder().
		Select(columns...).
		From(table).
		Where(sq.Eq{"published_at": nil, "dead_at": nil}).
		Where(sq.LtOrEq{"next_attempt_at": now.UnixMilli()}).
		OrderBy("created_at", "id").
		Limit(uint64(max(limit, 1))).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("load due outbox messages: %w", err)
	}
	defer rows.Close()

	var due []*Message
	for rows.Next() {
		msg, err := scan(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, msg)
	}
	return due, rows.Err()
}

func scan(rows *sql.Rows) (*Message, error) {
	var (
		msg             Message
		id, payload     string
		created, next   int64
		published, dead sql.NullInt64
	)
	err := rows.Scan(&id, &msg.RoutingKey, &msg.CorrelationID, &payload, &created,
		&msg.Attempts, &next, &msg.LastError, &published, &dead)
	if err != nil {
		return nil, fmt.Errorf("scan outbox message: %w", err)
	}
	if msg.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("outbox message %q: %w", id, err)
	}
	msg.Payload = []byte(payload)
	msg.CreatedAt = time.UnixMilli(created).UTC()
	msg.NextAttemptAt = time.UnixMilli(next).UTC()
	if published.Valid {
		msg.PublishedAt = time.UnixMilli(published.Int64).UTC()
	}
	if dead.Valid {
		msg.DeadAt = time.UnixMilli(dead.Int64).UTC()
	}
	return &msg, nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.set(ctx, id, sq.Eq{"published_at": at.UnixMilli()})
}

func (s *SQLStore) Reschedule(ctx context.Context, id uuid.UUID, cause string, next time.Time) error {
	return s.set(ctx, id, sq.Eq{
		"attempts":        sq.Expr("attempts + 1"),
		"last_error":      cause,
		"next_attempt_at": next.UnixMilli(),
	})
}

func (s *SQLStore) Bury(ctx context.Context, id uuid.UUID, cause string, at time.Time) error {
	return s.set(ctx, id, sq.Eq{
		"attempts":   sq.Expr("attempts + 1"),
		"last_error": cause,
		"dead_at":    at.UnixMilli(),
	})
}

func (s *SQLStore) set(ctx context.Context, id uuid.UUID, values sq.Eq) error {
	_, err := s.db.Builder().
		Update(table).
		SetMap(values).
		Where(sq.Eq{"id": id.String()}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update outbox message %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Builder().
		Delete(table).
		Where(sq.NotEq{"published_at": nil}).
		Where(sq.Lt{"published_at": before.UnixMilli()}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}
