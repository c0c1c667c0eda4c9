package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out one mutex per session and garbage collects unused ones.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
}

func newLockTable() *lockTable {
	return &lockTable{
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
	}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (t *lockTable) acquire(sessionID string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		t.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (t *lockTable) release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(t.locks, sessionID)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// withLock executes fn while holding the lock for the session.
func (c *Controller) withLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := c.locks.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		c.locks.release(sessionID)
	}()

	if c.locks.locker != nil {
		unlock, err := c.locks.locker.Lock(ctx, sessionID, c.locks.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
