package checkpoint

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

// SQLiteStore keeps checkpoints in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite initializes (or reuses) a SQLite database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Commits read then write; a single connection serializes them.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
        source TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, source string) (*string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE source = ?`, source).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint %s: %w", source, err)
	}
	return &value, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, source, checkpoint string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current *string
	var value string
	switch err := tx.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE source = ?`, source).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("query checkpoint %s: %w", source, err)
	default:
		current = &value
	}

	advance, err := checkAdvance(current, checkpoint)
	if err != nil || !advance {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints (source, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		source, checkpoint, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", source, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", source, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, value, updated_at FROM checkpoints ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			updatedAt int64
		)
		if err := rows.Scan(&e.Source, &e.Checkpoint, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
