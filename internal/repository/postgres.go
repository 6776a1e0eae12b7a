// Package repository provides fallback storage for the reserved account's
// logins, backed by PostgreSQL or a JSON file.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atinyakov/passkeeper/internal/clock"
	"github.com/atinyakov/passkeeper/internal/matcher"
	"github.com/atinyakov/passkeeper/internal/models"
)

const selectLogins = `
		SELECT guid, hostname, form_submit_url, http_realm, username, password, username_field, password_field
		  FROM logins WHERE deleted = false`

// PostgresLoginRepository stores logins in a PostgreSQL database. Queries
// match exactly; fuzzy matching only applies to the password store.
type PostgresLoginRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB    *sql.DB
	clock clock.Clock
}

// NewPostgresLoginRepository creates a repository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the schema
// created by db.Migrate.
func NewPostgresLoginRepository(db *sql.DB, clk clock.Clock) *PostgresLoginRepository {
	return &PostgresLoginRepository{DB: db, clock: clk}
}

type storedLogin struct {
	guid  string
	login models.Login
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Initialize checks the connection.
func (r *PostgresLoginRepository) Initialize(ctx context.Context) error {
	if err := r.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (r *PostgresLoginRepository) Close() error {
	return r.DB.Close()
}

// AddLogin inserts login under a new GUID.
func (r *PostgresLoginRepository) AddLogin(ctx context.Context, login models.Login) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO logins (guid, hostname, form_submit_url, http_realm, username, password, username_field, password_field)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), login.Hostname, nullString(login.FormSubmitURL), nullString(login.HTTPRealm),
		login.Username, login.Password, login.UsernameField, login.PasswordField)
	if err != nil {
		return fmt.Errorf("AddLogin: %w", err)
	}
	return nil
}

// SearchLogins returns the logins matching md.
func (r *PostgresLoginRepository) SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error) {
	found, err := r.search(ctx, r.DB, md)
	if err != nil {
		return nil, err
	}
	logins := make([]models.Login, 0, len(found))
	for _, f := range found {
		logins = append(logins, f.login)
	}
	return logins, nil
}

// CountLogins returns the number of logins matching md.
func (r *PostgresLoginRepository) CountLogins(ctx context.Context, md models.MatchData) (int, error) {
	found, err := r.search(ctx, r.DB, md)
	if err != nil {
		return 0, err
	}
	return len(found), nil
}

// RemoveLogin soft-deletes every row equal to login. The cleaner purges
// the rows later.
func (r *PostgresLoginRepository) RemoveLogin(ctx context.Context, login models.Login) error {
	found, err := r.search(ctx, r.DB, models.MatchAll(login))
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}
	guids := make([]string, 0, len(found))
	for _, f := range found {
		guids = append(guids, f.guid)
	}
	query := `UPDATE logins SET deleted = true, deleted_at = $1 WHERE guid = ANY($2)`
	if _, err := r.DB.ExecContext(ctx, query, r.clock.Now(), pq.Array(guids)); err != nil {
		return fmt.Errorf("RemoveLogin: %w", err)
	}
	return nil
}

// ModifyLogin applies change to every row equal to old within a transaction.
func (r *PostgresLoginRepository) ModifyLogin(ctx context.Context, old models.Login, change models.Change) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	found, err := r.search(ctx, tx, models.MatchAll(old))
	if err != nil {
		return err
	}

	for _, f := range found {
		base := f.login
		if change.Kind == models.FullRecord {
			base = old
		}
		updated, changed := change.Apply(base)
		if !changed {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE logins SET
				hostname = $2,
				form_submit_url = $3,
				http_realm = $4,
				username = $5,
				password = $6,
				username_field = $7,
				password_field = $8
			WHERE guid = $1
		`, f.guid, updated.Hostname, nullString(updated.FormSubmitURL), nullString(updated.HTTPRealm),
			updated.Username, updated.Password, updated.UsernameField, updated.PasswordField)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresLoginRepository) search(ctx context.Context, q queryer, md models.MatchData) ([]storedLogin, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if md.Text(models.Hostname) != "" {
		rows, err = q.QueryContext(ctx, selectLogins+` AND hostname = $1`, md.Text(models.Hostname))
	} else {
		rows, err = q.QueryContext(ctx, selectLogins)
	}
	if err != nil {
		return nil, fmt.Errorf("SearchLogins: %w", err)
	}
	defer rows.Close()

	var found []storedLogin
	for rows.Next() {
		var (
			s                    storedLogin
			submitURL, httpRealm sql.NullString
		)
		if err := rows.Scan(&s.guid, &s.login.Hostname, &submitURL, &httpRealm,
			&s.login.Username, &s.login.Password, &s.login.UsernameField, &s.login.PasswordField); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		s.login.FormSubmitURL = fromNullString(submitURL)
		s.login.HTTPRealm = fromNullString(httpRealm)
		if matcher.Matches(s.login, md, false) {
			found = append(found, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return found, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return models.String(ns.String)
}
