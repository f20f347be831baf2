package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the relational persistence layer for monitor state. It speaks
// postgres in production and sqlite for tests and single-node deployments;
// every repeated write is an upsert against a natural key so reconciliation
// passes are idempotent.
type Store struct {
	db       *sql.DB
	postgres bool
}

// Open connects to the database named by databaseURL. postgres:// and
// postgresql:// URLs select the pq driver; anything else is a sqlite path.
func Open(databaseURL string) (*Store, error) {
	driver := "sqlite3"
	postgres := false
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
		postgres = true
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if !postgres {
		// sqlite: a single writer avoids SQLITE_BUSY under concurrent
		// reconcilers
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, postgres: postgres}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// rebind converts ?-style placeholders to the driver's dialect
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Time columns are stored as unix seconds so both drivers scan identically

func timeArg(t time.Time) int64 {
	return t.Unix()
}

func nullTimeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeVal(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullTimeVal(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeVal(v.Int64)
	return &t
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
