package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultTombstoneTTL is how long a purged share keeps answering "expired".
const DefaultTombstoneTTL = 90 * 24 * time.Hour

// RecordStore implements ports.RecordStore using Redis.
//
// Live records carry no Redis TTL: expiry is logical and decided by the
// caller. A ZSET scored by expiry lets Purge find expired records without
// scanning, and purged records are rewritten as tombstones that do expire.
type RecordStore struct {
	client       *backend.Client
	prefix       string
	tombstoneTTL time.Duration
}

type RecordOption func(*RecordStore)

// WithRecordPrefix sets the key prefix for share records.
func WithRecordPrefix(prefix string) RecordOption {
	return func(s *RecordStore) {
		s.prefix = prefix
	}
}

// WithTombstoneTTL sets how long tombstones are retained.
func WithTombstoneTTL(ttl time.Duration) RecordOption {
	return func(s *RecordStore) {
		s.tombstoneTTL = ttl
	}
}

// NewRecordStore creates a RecordStore on an existing client.
func NewRecordStore(client *backend.Client, opts ...RecordOption) *RecordStore {
	s := &RecordStore{
		client:       client,
		prefix:       "anyheart:share:",
		tombstoneTTL: DefaultTombstoneTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecordStore) key(id string) string      { return s.prefix + id }
func (s *RecordStore) viewsKey(id string) string { return s.prefix + "views:" + id }
func (s *RecordStore) expiryKey() string         { return s.prefix + "expiry" }

// Put stores a new record. SETNX keeps records immutable.
func (s *RecordStore) Put(ctx context.Context, record *domain.ShareRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal share: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(record.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save share to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: share %s already exists", domain.ErrInvalidInput, record.ID)
	}
	err = s.client.ZAdd(ctx, s.expiryKey(), backend.Z{
		Score:  float64(record.ExpiresAt.Unix()),
		Member: record.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index share: %w", err)
	}
	return nil
}

// Get returns the record with its view count.
func (s *RecordStore) Get(ctx context.Context, id string) (*domain.ShareRecord, error) {
	pipe := s.client.Pipeline()
	recCmd := pipe.Get(ctx, s.key(id))
	viewsCmd := pipe.Get(ctx, s.viewsKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to get share from redis: %w", err)
	}

	data, err := recCmd.Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get share from redis: %w", err)
	}
	var record domain.ShareRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal share: %w", err)
	}
	if v, err := viewsCmd.Result(); err == nil {
		record.ViewCount, _ = strconv.ParseInt(v, 10, 64)
	}
	return &record, nil
}

// IncrementViews bumps the view counter of a stored record.
func (s *RecordStore) IncrementViews(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check share: %w", err)
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}
	return s.client.Incr(ctx, s.viewsKey(id)).Err()
}

// Purge rewrites every record expired at now as an expiring tombstone.
func (s *RecordStore) Purge(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired shares: %w", err)
	}

	purged := 0
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				s.client.ZRem(ctx, s.expiryKey(), id)
				continue
			}
			return purged, err
		}
		if !record.Expired(now) {
			// Sub-second remainder of the score window.
			continue
		}
		data, err := json.Marshal(record.Tombstoned())
		if err != nil {
			return purged, fmt.Errorf("failed to marshal tombstone: %w", err)
		}

		pipe := s.client.TxPipeline()
		pipe.Set(ctx, s.key(id), data, s.tombstoneTTL)
		pipe.Del(ctx, s.viewsKey(id))
		pipe.ZRem(ctx, s.expiryKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("failed to purge share %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}
