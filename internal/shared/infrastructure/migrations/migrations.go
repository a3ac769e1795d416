// Package migrations applies the embedded schema for each database driver.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Run applies pending .up.sql files in name order and records each one in
// schema_migrations. It returns the names applied by this call.
func Run(ctx context.Context, db *database.DB) ([]string, error) {
	dir := db.Driver().String()
	names, err := upFiles(dir)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedSet(ctx, db)
	if err != nil {
		return nil, err
	}

	ran := make([]string, 0, len(names))
	for _, name := range names {
		if applied[name] {
			continue
		}
		body, err := files.ReadFile(dir + "/" + name)
		if err != nil {
			return ran, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return ran, fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		_, err = db.Builder().
			Insert("schema_migrations").
			Columns("name", "applied_at").
			Values(name, time.Now().UTC().UnixMilli()).
			ExecContext(ctx)
		if err != nil {
			return ran, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		ran = append(ran, name)
	}
	return ran, nil
}

func upFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedSet(ctx context.Context, db *database.DB) (map[string]bool, error) {
	rows, err := db.Builder().Select("name").From("schema_migrations").QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Pending lists migrations not yet applied, without running them.
func Pending(ctx context.Context, db *database.DB) ([]string, error) {
	names, err := upFiles(db.Driver().String())
	if err != nil {
		return nil, err
	}
	applied, err := appliedSet(ctx, db)
	if err != nil {
		// No bookkeeping table yet means nothing has run.
		return names, nil
	}
	pending := make([]string, 0, len(names))
	for _, name := range names {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}
