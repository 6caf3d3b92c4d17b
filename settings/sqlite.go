package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteBackendSchema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

const (
	defaultSQLiteDir = ".rootstock"
	defaultSQLiteDB  = "rootstock.db"
)

// SQLiteBackendConfig configures the SQLite settings backend.
type SQLiteBackendConfig struct {
	DSN string
}

// SQLiteBackend persists the flat settings map in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// DefaultSQLitePath returns the default database path under the user's
// home directory.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("settings: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteDir, defaultSQLiteDB), nil
}

// NewSQLiteBackend opens (or creates) a SQLite-backed settings store.
func NewSQLiteBackend(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("settings: sqlite backend dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("settings: sqlite open: %w", err)
	}

	// WAL keeps reads concurrent with the bulk upserts.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settings: sqlite set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteBackendSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settings: sqlite create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// LoadAll reads the entire settings table into a map.
func (b *SQLiteBackend) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("settings: sqlite load: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: sqlite scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: sqlite load: %w", err)
	}
	return out, nil
}

// SaveAll upserts the given pairs in one transaction, last write wins.
func (b *SQLiteBackend) SaveAll(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: sqlite begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("settings: sqlite prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p.Key, p.Value, now); err != nil {
			return fmt.Errorf("settings: sqlite upsert %q: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settings: sqlite commit: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
