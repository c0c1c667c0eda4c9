package domain

import "time"

// ShareRecord is an immutable, expiring snapshot of modified markup.
type ShareRecord struct {
	ID          string    `json:"share_id"`
	OriginalURL string    `json:"original_url"`
	Markup      string    `json:"modified_html"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ViewCount   int64     `json:"view_count,omitempty"`

	// Tombstone marks a purged record whose content is gone.
	Tombstone bool `json:"tombstone,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (r *ShareRecord) Expired(now time.Time) bool {
	return r.Tombstone || !now.Before(r.ExpiresAt)
}

// Tombstoned returns the content-free form kept after purge.
func (r *ShareRecord) Tombstoned() *ShareRecord {
	return &ShareRecord{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Tombstone: true,
	}
}

// ShareRequest asks for a new share record.
type ShareRequest struct {
	URL         string `json:"url"`
	HTML        string `json:"html"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// ExpiresInDays defaults to 30 when nil. Zero expires immediately.
	ExpiresInDays *int `json:"expires_in_days,omitempty"`
}

// ShareResult is returned when a share is created.
type ShareResult struct {
	ShareID      string    `json:"share_id"`
	ShareableURL string    `json:"shareable_url"`
	Message      string    `json:"message"`
	ExpiresAt    time.Time `json:"expires_at"`
}
