package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// RecordStore implements ports.RecordStore in memory.
type RecordStore struct {
	data map[string]domain.ShareRecord
	mu   sync.RWMutex
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{data: make(map[string]domain.ShareRecord)}
}

// Put stores a new record.
func (s *RecordStore) Put(ctx context.Context, record *domain.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[record.ID]; exists {
		return fmt.Errorf("%w: share %s already exists", domain.ErrInvalidInput, record.ID)
	}
	s.data[record.ID] = *record
	return nil
}

// Get returns a copy of the record.
func (s *RecordStore) Get(ctx context.Context, id string) (*domain.ShareRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &r, nil
}

// IncrementViews bumps the view counter.
func (s *RecordStore) IncrementViews(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	r.ViewCount++
	s.data[id] = r
	return nil
}

// Purge tombstones every record expired at now.
func (s *RecordStore) Purge(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.data {
		if r.Tombstone || !r.Expired(now) {
			continue
		}
		s.data[id] = *r.Tombstoned()
		n++
	}
	return n, nil
}
