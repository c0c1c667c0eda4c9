// Package pagecache keeps the latest markup of each page so a reload can restore it.
//
// Saves are debounced: a pending write is superseded by a newer one for the
// same page and its window restarts, so a burst of mutations results in one
// physical write holding the latest state. Storage failures are logged and
// never surface to the edit flow.
package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

const (
	// KeyPrefix namespaces snapshots inside the host store.
	KeyPrefix = "snapshot:"

	DefaultDebounce  = 500 * time.Millisecond
	DefaultWindow    = 24 * time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

// Metrics receives cache measurements.
type Metrics interface {
	CacheWrite(err error)
	CacheEvicted(reason string, n int)
}

// Cache is the debounced snapshot cache.
type Cache struct {
	kv        ports.KVStore
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time
	debounce  time.Duration
	window    time.Duration
	retention time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
	version uint64
	wg      sync.WaitGroup
	writing sync.WaitGroup

	writeMu sync.Mutex
	written map[string]uint64
}

type pendingWrite struct {
	snap     domain.PageSnapshot
	version  uint64
	deadline time.Time
	done     chan struct{}
}

// Option configures the Cache.
type Option func(*Cache)

// WithLogger configures a logger for the Cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records writes and evictions.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithWindow sets how old a snapshot may be and still be restored.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithRetention sets the age after which Sweep removes snapshots.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock overrides the time source used for capture times and age checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache over kv.
func New(kv ports.KVStore, opts ...Option) *Cache {
	c := &Cache{
		kv:        kv,
		logger:    logging.NewNop(),
		now:       time.Now,
		debounce:  DefaultDebounce,
		window:    DefaultWindow,
		retention: DefaultRetention,
		pending:   make(map[string]*pendingWrite),
		written:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the storage key of a page URL.
func Key(pageURL string) (string, error) {
	pageKey, err := domain.NormalizePageKey(pageURL)
	if err != nil {
		return "", err
	}
	return KeyPrefix + pageKey, nil
}

// Save schedules a write of the page markup. Only an unusable URL is reported.
func (c *Cache) Save(pageURL, markup, title string) error {
	key, err := Key(pageURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	p, ok := c.pending[key]
	if !ok {
		p = &pendingWrite{done: make(chan struct{})}
		c.pending[key] = p
		c.wg.Add(1)
		go c.flusher(key, p)
	}
	p.snap = domain.PageSnapshot{
		Key:        strings.TrimPrefix(key, KeyPrefix),
		Markup:     markup,
		Title:      title,
		CapturedAt: c.now(),
	}
	p.version = c.version
	p.deadline = time.Now().Add(c.debounce)
	return nil
}

// flusher waits out the window of one pending write, following its deadline
// as newer saves push it back.
func (c *Cache) flusher(key string, p *pendingWrite) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.pending[key] != p {
			c.mu.Unlock()
			return
		}
		wait := time.Until(p.deadline)
		if wait <= 0 {
			delete(c.pending, key)
			snap, version := p.snap, p.version
			c.writing.Add(1)
			c.mu.Unlock()
			c.write(key, snap, version)
			c.writing.Done()
			return
		}
		c.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
			return
		}
	}
}

// write stores one snapshot unless a newer version of the key already landed.
func (c *Cache) write(key string, snap domain.PageSnapshot, version uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.written[key] >= version {
		return
	}
	data, err := json.Marshal(snap)
	if err == nil {
		err = c.kv.Set(context.Background(), key, data)
	}
	if c.metrics != nil {
		c.metrics.CacheWrite(err)
	}
	if err != nil {
		c.logger.Warn("Failed to persist page snapshot", "page_key", snap.Key, "err", err)
		return
	}
	c.written[key] = version
	c.logger.Debug("Page snapshot persisted", "page_key", snap.Key, "bytes", len(snap.Markup))
}

// Flush writes every pending snapshot now and waits for writes already under way.
func (c *Cache) Flush() {
	c.mu.Lock()
	type job struct {
		key     string
		snap    domain.PageSnapshot
		version uint64
	}
	jobs := make([]job, 0, len(c.pending))
	for key, p := range c.pending {
		jobs = append(jobs, job{key, p.snap, p.version})
		delete(c.pending, key)
		close(p.done)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.write(j.key, j.snap, j.version)
	}
	c.writing.Wait()
}

// Close flushes pending writes and waits for the flushers to exit.
func (c *Cache) Close() {
	c.Flush()
	c.wg.Wait()
}

// Restore returns the persisted snapshot of a page if it is inside the
// restore window. Stale snapshots are deleted on the way.
func (c *Cache) Restore(ctx context.Context, pageURL string) (*domain.PageSnapshot, bool) {
	key, err := Key(pageURL)
	if err != nil {
		return nil, false
	}

	snap, err := c.load(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			c.logger.Warn("Failed to read page snapshot", "key", key, "err", err)
		}
		return nil, false
	}

	if c.now().Sub(snap.CapturedAt) >= c.window {
		c.evict(ctx, key, "stale")
		return nil, false
	}
	return snap, true
}

// Sweep removes every snapshot older than the retention period, and any
// entry that cannot be decoded.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.kv.List(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		snap, err := c.load(ctx, key)
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			continue
		case err != nil:
			c.logger.Debug("Dropping unreadable snapshot", "key", key, "err", err)
		case c.now().Sub(snap.CapturedAt) <= c.retention:
			continue
		}
		if c.evict(ctx, key, "expired") {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Page snapshots swept", "count", removed)
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Snapshot sweep failed", "err", err)
			}
		}
	}
}

// Clear drops the pending write and the stored snapshot of a page.
func (c *Cache) Clear(ctx context.Context, pageURL string) error {
	key, err := Key(pageURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if p, ok := c.pending[key]; ok {
		delete(c.pending, key)
		close(p.done)
	}
	// A write already past its window must not resurrect the snapshot.
	version := c.version
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.written[key] = version
	if err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string) (*domain.PageSnapshot, error) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var snap domain.PageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *Cache) evict(ctx context.Context, key, reason string) bool {
	if err := c.kv.Delete(ctx, key); err != nil {
		c.logger.Warn("Failed to evict page snapshot", "key", key, "err", err)
		return false
	}
	if c.metrics != nil {
		c.metrics.CacheEvicted(reason, 1)
	}
	return true
}
