// Package database opens the SQLite or PostgreSQL database behind the
// availability stores and builds driver-correct SQL for them.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Driver represents a database backend type.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func (d Driver) String() string {
	return string(d)
}

// IsValid returns true if the driver is a known type.
func (d Driver) IsValid() bool {
	switch d {
	case DriverPostgres, DriverSQLite:
		return true
	default:
		return false
	}
}

// DetectDriver guesses the driver from a connection string. An empty URL
// means local SQLite mode.
func DetectDriver(url string) Driver {
	switch {
	case url == "":
		return DriverSQLite
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(url, "sqlite://"),
		strings.HasPrefix(url, "file:"),
		strings.HasSuffix(url, ".db"),
		strings.HasSuffix(url, ".sqlite"),
		strings.HasSuffix(url, ".sqlite3"):
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

// Config holds database configuration.
type Config struct {
	// Driver is detected from URL when empty or "auto".
	Driver Driver
	// URL is the PostgreSQL connection string.
	URL string
	// SQLitePath defaults to DefaultSQLitePath().
	SQLitePath string
	// MaxConns caps open connections (PostgreSQL only).
	MaxConns int
}

// DB is an open database plus the driver it speaks.
type DB struct {
	*sql.DB
	driver Driver
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = openPostgres(cfg)
	case DriverSQLite:
		db, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the driver type.
func (db *DB) Driver() Driver {
	return db.driver
}

// Builder returns a squirrel statement builder with the driver's
// placeholder format, bound to db.
func (db *DB) Builder() sq.StatementBuilderType {
	return db.BuilderFor(db.DB)
}

// BuilderFor returns a builder bound to runner, usually a transaction.
func (db *DB) BuilderFor(runner sq.BaseRunner) sq.StatementBuilderType {
	b := sq.StatementBuilder.RunWith(runner)
	if db.driver == DriverPostgres {
		return b.PlaceholderFormat(sq.Dollar)
	}
	return b.PlaceholderFormat(sq.Question)
}

// WithinTx runs fn in a transaction, committing on success.
func (db *DB) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsNoRows reports whether err means a query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// DefaultSQLitePath returns the default SQLite database path.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".panda", "availability.db")
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
