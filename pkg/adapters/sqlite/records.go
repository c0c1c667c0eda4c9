// Package sqlite stores share records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS shares (
	id           TEXT PRIMARY KEY,
	original_url TEXT NOT NULL DEFAULT '',
	markup       TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	view_count   INTEGER NOT NULL DEFAULT 0,
	tombstone    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS shares_expires_at ON shares(expires_at) WHERE tombstone = 0;
`

// RecordStore implements ports.RecordStore on SQLite.
type RecordStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Put inserts a new record. Existing ids are left untouched.
func (s *RecordStore) Put(ctx context.Context, r *domain.ShareRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (id, original_url, markup, title, description, created_at, expires_at, view_count, tombstone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.OriginalURL, r.Markup, r.Title, r.Description,
		r.CreatedAt.UnixMilli(), r.ExpiresAt.UnixMilli(), r.ViewCount, boolInt(r.Tombstone))
	if err != nil {
		return fmt.Errorf("failed to insert share: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert share: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: share %s already exists", domain.ErrInvalidInput, r.ID)
	}
	return nil
}

// Get returns the record or its tombstone.
func (s *RecordStore) Get(ctx context.Context, id string) (*domain.ShareRecord, error) {
	var (
		r                domain.ShareRecord
		created, expires int64
		tombstone        int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_url, markup, title, description, created_at, expires_at, view_count, tombstone
		FROM shares WHERE id = ?`, id).
		Scan(&r.ID, &r.OriginalURL, &r.Markup, &r.Title, &r.Description, &created, &expires, &r.ViewCount, &tombstone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query share: %w", err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.ExpiresAt = time.UnixMilli(expires).UTC()
	r.Tombstone = tombstone != 0
	return &r, nil
}

// IncrementViews bumps the view counter of a live record.
func (s *RecordStore) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shares SET view_count = view_count + 1 WHERE id = ? AND tombstone = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to count view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// Purge drops the content of every record expired at now, keeping its row as a tombstone.
func (s *RecordStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shares
		SET original_url = '', markup = '', title = '', description = '', view_count = 0, tombstone = 1
		WHERE tombstone = 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge shares: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge shares: %w", err)
	}
	return int(n), nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
