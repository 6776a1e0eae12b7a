// Package db opens the PostgreSQL fallback database and maintains it.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS logins (
    guid TEXT PRIMARY KEY,
    hostname TEXT NOT NULL,
    form_submit_url TEXT,
    http_realm TEXT,
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL,
    username_field TEXT NOT NULL DEFAULT '',
    password_field TEXT NOT NULL DEFAULT '',
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS logins_hostname_idx ON logins (hostname) WHERE NOT deleted;
`

// InitPostgres opens the database at dsn, checks the connection and
// creates the schema.
func InitPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the tables and indexes when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
