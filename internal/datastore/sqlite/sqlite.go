// Package sqlite persists the running configuration in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"gearboxd/internal/datastore"

	_ "modernc.org/sqlite"
)

// Backend implements datastore.Backend using SQLite
type Backend struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Backend, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS running_config (
		path TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS commit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT,
		committed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Load implements datastore.Backend
func (b *Backend) Load(ctx context.Context) (datastore.Tree, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT path, value FROM running_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query running config: %w", err)
	}
	defer rows.Close()

	tree := make(datastore.Tree)
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("failed to scan running config: %w", err)
		}
		tree[path] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating running config: %w", err)
	}
	return tree, nil
}

// Store implements datastore.Backend. All changes of a commit are written
// in one SQL transaction.
func (b *Backend) Store(ctx context.Context, changes []datastore.Change) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// apply to a scratch tree so list-entry and container semantics match
	// the in-memory store exactly
	current := make(datastore.Tree)
	for _, c := range changes {
		if c.Kind == datastore.Deleted {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM running_config
				WHERE path = ? OR substr(path, 1, length(?) + 1) IN (? || '/', ? || '[')
			`, c.Path, c.Path, c.Path, c.Path); err != nil {
				return fmt.Errorf("failed to delete %s: %w", c.Path, err)
			}
		} else {
			current.Apply([]datastore.Change{c})
			if v, ok := current[c.Path]; ok {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO running_config (path, value) VALUES (?, ?)
					ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
				`, c.Path, v); err != nil {
					return fmt.Errorf("failed to upsert %s: %w", c.Path, err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commit_log (path, kind, value) VALUES (?, ?, ?)`,
			c.Path, string(c.Kind), stringToNull(c.Value)); err != nil {
			return fmt.Errorf("failed to log change: %w", err)
		}
	}

	return tx.Commit()
}

// History returns the most recent logged changes, newest first
func (b *Backend) History(ctx context.Context, limit int) ([]datastore.Change, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT path, kind, value FROM commit_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commit log: %w", err)
	}
	defer rows.Close()

	var changes []datastore.Change
	for rows.Next() {
		var (
			path, kind string
			value      sql.NullString
		)
		if err := rows.Scan(&path, &kind, &value); err != nil {
			return nil, fmt.Errorf("failed to scan commit log: %w", err)
		}
		changes = append(changes, datastore.Change{Path: path, Kind: datastore.Kind(kind), Value: nullToString(value)})
	}
	return changes, rows.Err()
}

// Close implements datastore.Backend
func (b *Backend) Close() error {
	return b.db.Close()
}

func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
