package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock taken with DistributedLocker.Lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes round admission for one session across
// backend replicas sharing a SessionStore. The in-process per-session mutex
// still applies on top of it.
type DistributedLocker interface {
	// Lock blocks until key is held or ctx is done. The lock lapses after
	// ttl if its holder dies without unlocking.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
