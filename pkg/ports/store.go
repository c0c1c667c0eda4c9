package ports

import (
	"context"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// SessionStore persists controller sessions.
type SessionStore interface {
	// Save persists the session under its ID, replacing any previous version.
	Save(ctx context.Context, session *domain.Session) error

	// Load retrieves the session for a given ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns all active session IDs.
	List(ctx context.Context) ([]string, error)
}

// RecordStore persists share records. Records are immutable once stored.
type RecordStore interface {
	// Put stores a new record. An existing ID is rejected with domain.ErrInvalidInput.
	Put(ctx context.Context, record *domain.ShareRecord) error

	// Get returns the record, or its tombstone after a purge.
	// Returns domain.ErrRecordNotFound for IDs that were never stored.
	Get(ctx context.Context, id string) (*domain.ShareRecord, error)

	// IncrementViews bumps the view counter of a live record.
	IncrementViews(ctx context.Context, id string) error

	// Purge replaces every record expired at now with its tombstone and
	// returns how many records were purged.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// KVStore is the host key-value storage.
type KVStore interface {
	// Get returns domain.ErrKeyNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
