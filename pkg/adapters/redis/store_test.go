package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/pkg/adapters/redis"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSessionStoreContract(t, redis.NewFromClient(client))
}

func TestRedisRecordStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunRecordStoreContract(t, redis.NewRecordStore(client))
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Hour), redis.WithPrefix("test:"))
	ctx := context.Background()

	s := &domain.Session{ID: "ttl-session", Status: domain.SessionActive}
	require.NoError(t, store.Save(ctx, s))

	assert.True(t, mr.Exists("test:ttl-session"))
	ttl := mr.TTL("test:ttl-session")
	assert.True(t, ttl > 59*time.Minute && ttl <= 1*time.Hour, "TTL should be around 1h, got %v", ttl)

	mr.FastForward(2 * time.Hour)

	_, err := store.Load(ctx, "ttl-session")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRedisRecordStore_TombstoneExpires(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewRecordStore(client, redis.WithTombstoneTTL(time.Hour))
	ctx := context.Background()
	now := time.Now()

	rec := &domain.ShareRecord{ID: "gone", Markup: "<p/>", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, store.Put(ctx, rec))

	n, err := store.Purge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, got.Tombstone)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}
