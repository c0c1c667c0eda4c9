package ports

import (
	"context"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	newSession := func(id string) *domain.Session {
		markup := "<html><body>after</body></html>"
		return &domain.Session{
			ID:              id,
			Status:          domain.SessionActive,
			Markup:          markup,
			ProcessedMarkup: markup,
			Replacements:    map[string]string{"__sc1__": "<script>x()</script>"},
			Rounds: []domain.Round{{
				Seq:         1,
				Instruction: "make it dark",
				Markup:      &markup,
				Outcome:     domain.RoundApplied,
				StartedAt:   time.Now().UTC().Truncate(time.Millisecond),
			}},
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
			UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		s := newSession(sessionID)
		require.NoError(t, store.Save(ctx, s), "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, s.ID, loaded.ID)
		assert.Equal(t, domain.SessionActive, loaded.Status)
		require.Len(t, loaded.Rounds, 1)
		require.NotNil(t, loaded.Rounds[0].Markup)
		assert.Equal(t, *s.Rounds[0].Markup, *loaded.Rounds[0].Markup)
		assert.Equal(t, "<script>x()</script>", loaded.Replacements["__sc1__"])
		assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.Rounds = append(loaded.Rounds, domain.Round{Seq: 2})

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, again.Rounds, 1)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newSession(sessionID)))
		require.NoError(t, store.Delete(ctx, sessionID), "Delete should not return error")

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
		assert.NoError(t, store.Delete(ctx, sessionID), "Deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, newSession(id1))
		_ = store.Save(ctx, newSession(id2))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunRecordStoreContract verifies a RecordStore implementation.
func RunRecordStoreContract(t *testing.T, store RecordStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	suffix := now.Format("150405")

	live := &domain.ShareRecord{
		ID:          "live" + suffix,
		OriginalURL: "https://example.com/page",
		Markup:      "<html>shared</html>",
		Title:       "Shared",
		Description: "a page",
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	stale := &domain.ShareRecord{
		ID:          "stale" + suffix,
		OriginalURL: "https://example.com/old",
		Markup:      "<html>old</html>",
		CreatedAt:   now.Add(-48 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	}

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, live))
		got, err := store.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, live.OriginalURL, got.OriginalURL)
		assert.Equal(t, live.Markup, got.Markup)
		assert.Equal(t, live.Title, got.Title)
		assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))
		assert.False(t, got.Tombstone)
	})

	t.Run("Put is immutable", func(t *testing.T) {
		dup := *live
		dup.Markup = "<html>overwritten</html>"
		err := store.Put(ctx, &dup)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		got, err := store.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, live.Markup, got.Markup)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing"+suffix)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("IncrementViews", func(t *testing.T) {
		require.NoError(t, store.IncrementViews(ctx, live.ID))
		require.NoError(t, store.IncrementViews(ctx, live.ID))
		got, err := store.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.ViewCount)
	})

	t.Run("Purge keeps tombstones", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, stale))

		n, err := store.Purge(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		got, err := store.Get(ctx, stale.ID)
		require.NoError(t, err, "purged records must stay distinguishable from unknown ids")
		assert.True(t, got.Tombstone)
		assert.Empty(t, got.Markup)
		assert.True(t, got.Expired(now))

		kept, err := store.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, live.Markup, kept.Markup, "live records are untouched by purge")
	})
}

// RunKVStoreContract verifies a KVStore implementation.
func RunKVStoreContract(t *testing.T, store KVStore) {
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "snapshot:https://example.com/a", []byte("A")))
		v, err := store.Get(ctx, "snapshot:https://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("A"), v)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "snapshot:https://example.com/a", []byte("B")))
		v, err := store.Get(ctx, "snapshot:https://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("B"), v)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("List by prefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "session:https://example.com/a", []byte("{}")))
		keys, err := store.List(ctx, "snapshot:")
		require.NoError(t, err)
		assert.Contains(t, keys, "snapshot:https://example.com/a")
		assert.NotContains(t, keys, "session:https://example.com/a")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "snapshot:https://example.com/a"))
		_, err := store.Get(ctx, "snapshot:https://example.com/a")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
		assert.NoError(t, store.Delete(ctx, "snapshot:https://example.com/a"))
	})
}
