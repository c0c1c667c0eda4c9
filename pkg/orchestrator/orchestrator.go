// Package orchestrator drives the edit loop from the client side: it keeps one
// state slot per page, talks to the backend, applies results through the host
// and feeds observations back.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/observation"
	"github.com/alexhamidi/anyheart/pkg/pagecache"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/alexhamidi/anyheart/pkg/share"
)

const (
	// PointerPrefix namespaces session pointers inside the host store.
	PointerPrefix = "session:"

	DefaultHostTimeout = 3 * time.Second
	// observeTimeout bounds a background collection and its delivery.
	observeTimeout = 30 * time.Second
)

// StatusSink shows short lower-case status lines to the user.
type StatusSink interface {
	Status(message string)
}

// SinkFunc adapts a function to StatusSink.
type SinkFunc func(message string)

func (f SinkFunc) Status(message string) { f(message) }

type nopSink struct{}

func (nopSink) Status(string) {}

// pageContext is the state slot of one page identity.
type pageContext struct {
	key string

	mu        sync.Mutex
	sessionID string
	history   []domain.ConversationEntry
	collector *observation.Collector
	observing chan struct{}
	// mutations counts markup applied to the page; an observation is only
	// delivered if no mutation followed the one it observes.
	mutations atomic.Uint64
}

// Orchestrator coordinates one host with the backend.
type Orchestrator struct {
	backend ports.Backend
	host    ports.Host
	kv      ports.KVStore
	cache   *pagecache.Cache

	logger        *slog.Logger
	sink          StatusSink
	now           func() time.Time
	hostTimeout   time.Duration
	modelType     string
	collectorOpts []observation.Option

	mu    sync.Mutex
	pages map[string]*pageContext
	wg    sync.WaitGroup
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithStatusSink sets where status lines go.
func WithStatusSink(sink StatusSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithHostTimeout bounds every host call.
func WithHostTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.hostTimeout = d
		}
	}
}

// WithModelType selects the interpreter model for new sessions.
func WithModelType(model string) Option {
	return func(o *Orchestrator) {
		o.modelType = model
	}
}

// WithCollectorOptions configures the per-page observation collectors.
func WithCollectorOptions(opts ...observation.Option) Option {
	return func(o *Orchestrator) {
		o.collectorOpts = opts
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator. kv holds session pointers and cache holds page snapshots.
func New(backend ports.Backend, host ports.Host, kv ports.KVStore, cache *pagecache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		host:        host,
		kv:          kv,
		cache:       cache,
		logger:      logging.NewNop(),
		sink:        nopSink{},
		now:         time.Now,
		hostTimeout: DefaultHostTimeout,
		pages:       make(map[string]*pageContext),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit sends an instruction for the current page: it starts a session when
// the page has none and continues it otherwise. An applied result is put on
// the page, cached, and observed in the background.
func (o *Orchestrator) Submit(ctx context.Context, instruction string) (*domain.RoundResult, error) {
	pageURL, pc, err := o.current(ctx)
	if err != nil {
		return nil, o.report(err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if err := o.awaitObservation(ctx, pc); err != nil {
		return nil, err
	}

	var before string
	if err := o.hostCall(ctx, "read markup", func(ctx context.Context) error {
		var err error
		before, err = o.host.Markup(ctx)
		return err
	}); err != nil {
		return nil, o.report(err)
	}

	res, err := o.send(ctx, pc, instruction, before)
	if res != nil && res.SessionID != "" && res.SessionID != pc.sessionID {
		pc.sessionID = res.SessionID
		o.persist(ctx, pc)
	}
	if err != nil {
		return res, o.report(err)
	}

	if res.UpdatedHTML != nil {
		after := *res.UpdatedHTML
		if err := o.mutate(ctx, pc, after); err != nil {
			return res, o.report(err)
		}
		o.snapshot(ctx, pageURL, after)
		o.observe(pc, pc.sessionID, before, after)
	}

	now := o.now()
	pc.history = append(pc.history,
		domain.ConversationEntry{Role: domain.RoleUser, Content: instruction, Timestamp: now},
		domain.ConversationEntry{Role: domain.RoleAssistant, Content: res.Message, Timestamp: now},
	)
	o.persist(ctx, pc)

	if res.Status == domain.SessionCompleted {
		o.sink.Status("session finished, the next instruction starts a new one")
		pc.sessionID = ""
		pc.history = nil
	}
	return res, nil
}

// send starts or continues the session of pc. A follow-up to a session the
// backend no longer has transparently starts a new one.
func (o *Orchestrator) send(ctx context.Context, pc *pageContext, instruction, markup string) (*domain.RoundResult, error) {
	if pc.sessionID != "" {
		res, err := o.backend.Submit(ctx, pc.sessionID, instruction, "")
		if !errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrSessionNotActive) {
			return res, err
		}
		o.logger.Info("Session gone, starting a new one", "session_id", pc.sessionID, "page_key", pc.key)
		o.sink.Status("previous session ended, starting a new one")
		pc.sessionID = ""
		pc.history = nil
	}

	var screenshot string
	if err := o.hostCall(ctx, "screenshot", func(ctx context.Context) error {
		var err error
		screenshot, err = o.host.Screenshot(ctx)
		return err
	}); err != nil {
		// The screenshot only adds context.
		o.logger.Debug("Screenshot unavailable", "page_key", pc.key, "err", err)
	}

	return o.backend.Start(ctx, domain.StartRequest{
		Query:             instruction,
		HTML:              markup,
		InitialScreenshot: screenshot,
		ModelType:         o.modelType,
	})
}

// Resume reattaches the current page to its remembered session. It returns
// nil when there is nothing to resume; a pointer to a session the backend no
// longer has is discarded.
func (o *Orchestrator) Resume(ctx context.Context) (*domain.SessionPointer, error) {
	_, pc, err := o.current(ctx)
	if err != nil {
		return nil, err
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()

	data, err := o.kv.Get(ctx, PointerPrefix+pc.key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session pointer: %w", err)
	}
	var ptr domain.SessionPointer
	if err := json.Unmarshal(data, &ptr); err != nil || ptr.SessionID == "" {
		o.logger.Warn("Discarding unreadable session pointer", "page_key", pc.key, "err", err)
		o.discard(ctx, pc)
		return nil, nil
	}

	sum, err := o.backend.Status(ctx, ptr.SessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		o.discard(ctx, pc)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to check session: %w", err)
	case sum.Status != domain.SessionActive:
		o.discard(ctx, pc)
		return nil, nil
	}

	pc.sessionID = ptr.SessionID
	pc.history = domain.PersistableHistory(ptr.History)
	o.logger.Info("Session resumed", "session_id", ptr.SessionID, "page_key", pc.key)
	return &ptr, nil
}

// Reset forgets the session and the cached snapshot of the current page.
// Both halves are attempted and both are reported.
func (o *Orchestrator) Reset(ctx context.Context) error {
	pageURL, pc, err := o.current(ctx)
	if err != nil {
		return err
	}
	pc.supersede()

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.sessionID = ""
	pc.history = nil

	var errs []error
	if err := o.kv.Delete(ctx, PointerPrefix+pc.key); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear session pointer: %w", err))
	}
	if err := o.cache.Clear(ctx, pageURL); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	o.sink.Status("conversation cleared")
	return nil
}

// RestoreSnapshot puts the cached markup of the current page back, if any.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context) (bool, error) {
	pageURL, pc, err := o.current(ctx)
	if err != nil {
		return false, err
	}
	snap, ok := o.cache.Restore(ctx, pageURL)
	if !ok {
		return false, nil
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := o.mutate(ctx, pc, snap.Markup); err != nil {
		return false, o.report(err)
	}
	o.logger.Info("Page snapshot restored", "page_key", snap.Key)
	return true, nil
}

// Share exports the current page as a share link.
func (o *Orchestrator) Share(ctx context.Context, title, description string, expiresInDays *int) (*domain.ShareResult, error) {
	var pageURL, markup string
	err := o.hostCall(ctx, "read page", func(ctx context.Context) error {
		var err error
		if pageURL, err = o.host.URL(ctx); err != nil {
			return err
		}
		markup, err = o.host.Markup(ctx)
		return err
	})
	if err != nil {
		return nil, o.report(err)
	}
	if title == "" {
		_ = o.hostCall(ctx, "read title", func(ctx context.Context) error {
			var err error
			title, err = o.host.Title(ctx)
			return err
		})
	}

	res, err := o.backend.CreateShare(ctx, domain.ShareRequest{
		URL:           pageURL,
		HTML:          markup,
		Title:         title,
		Description:   description,
		ExpiresInDays: expiresInDays,
	})
	if err != nil {
		return nil, o.report(err)
	}
	return res, nil
}

// ApplyShared loads a share and puts it on the current page. A share made
// for another page is rejected before anything changes.
func (o *Orchestrator) ApplyShared(ctx context.Context, shareID string) (*domain.ShareRecord, error) {
	rec, err := o.backend.FetchShare(ctx, shareID)
	if err != nil {
		return nil, o.report(err)
	}

	pageURL, pc, err := o.current(ctx)
	if err != nil {
		return nil, o.report(err)
	}
	if err := share.VerifyTarget(rec, pageURL); err != nil {
		return nil, o.report(err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := o.mutate(ctx, pc, rec.Markup); err != nil {
		return nil, o.report(err)
	}
	o.snapshot(ctx, pageURL, rec.Markup)
	return rec, nil
}

// Wait blocks until background observations are delivered.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SessionID returns the session of the current page, if any.
func (o *Orchestrator) SessionID(ctx context.Context) (string, error) {
	_, pc, err := o.current(ctx)
	if err != nil {
		return "", err
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.sessionID, nil
}

// current resolves the page the host shows and its state slot.
func (o *Orchestrator) current(ctx context.Context) (string, *pageContext, error) {
	var pageURL string
	if err := o.hostCall(ctx, "read url", func(ctx context.Context) error {
		var err error
		pageURL, err = o.host.URL(ctx)
		return err
	}); err != nil {
		return "", nil, err
	}
	key, err := domain.NormalizePageKey(pageURL)
	if err != nil {
		return "", nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	pc, ok := o.pages[key]
	if !ok {
		pc = &pageContext{
			key:       key,
			collector: observation.NewCollector(o.host, append([]observation.Option{observation.WithLogger(o.logger)}, o.collectorOpts...)...),
		}
		o.pages[key] = pc
	}
	return pageURL, pc, nil
}

// mutate puts markup on the page of pc. Any observation of an earlier
// mutation is cancelled first and will not be delivered.
func (o *Orchestrator) mutate(ctx context.Context, pc *pageContext, markup string) error {
	pc.supersede()
	return o.hostCall(ctx, "apply markup", func(ctx context.Context) error {
		return o.host.ApplyMarkup(ctx, markup)
	})
}

func (pc *pageContext) supersede() {
	pc.mutations.Add(1)
	pc.collector.Cancel()
}

// hostCall bounds a host operation. Running out of time is reported as
// ErrHostUnresponsive, distinct from the host failing.
func (o *Orchestrator) hostCall(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.hostTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s took longer than %s", domain.ErrHostUnresponsive, op, o.hostTimeout)
	}
	return fmt.Errorf("host failed to %s: %w", op, err)
}

func (o *Orchestrator) snapshot(ctx context.Context, pageURL, markup string) {
	var title string
	_ = o.hostCall(ctx, "read title", func(ctx context.Context) error {
		var err error
		title, err = o.host.Title(ctx)
		return err
	})
	if err := o.cache.Save(pageURL, markup, title); err != nil {
		o.logger.Warn("Failed to cache page snapshot", "err", err)
	}
}

// observe collects an observation of the change in the background and
// delivers it to the backend.
func (o *Orchestrator) observe(pc *pageContext, sessionID, before, after string) {
	done := make(chan struct{})
	pc.observing = done
	mutation := pc.mutations.Load()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)

		ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
		defer cancel()

		if pc.mutations.Load() != mutation {
			return
		}
		obs, err := pc.collector.Collect(ctx, before, after)
		if err == nil && pc.mutations.Load() != mutation {
			err = observation.ErrSuperseded
		}
		if err != nil {
			if !errors.Is(err, observation.ErrSuperseded) {
				o.logger.Warn("Observation failed", "session_id", sessionID, "err", err)
			}
			return
		}
		if obs.ErrorOccurred {
			o.sink.Status("the page reported errors after the edit")
		}
		if err := o.backend.Observe(ctx, sessionID, obs); err != nil {
			o.logger.Warn("Failed to deliver observation", "session_id", sessionID, "err", err)
		}
	}()
}

// awaitObservation lets the previous round's observation land before the next round starts.
func (o *Orchestrator) awaitObservation(ctx context.Context, pc *pageContext) error {
	if pc.observing == nil {
		return nil
	}
	select {
	case <-pc.observing:
		pc.observing = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist writes the session pointer of pc. Failures only degrade resume.
func (o *Orchestrator) persist(ctx context.Context, pc *pageContext) {
	if pc.sessionID == "" {
		return
	}
	data, err := json.Marshal(domain.SessionPointer{
		SessionID: pc.sessionID,
		History:   domain.PersistableHistory(pc.history),
		Timestamp: o.now(),
	})
	if err == nil {
		err = o.kv.Set(ctx, PointerPrefix+pc.key, data)
	}
	if err != nil {
		o.logger.Warn("Failed to persist session pointer", "page_key", pc.key, "err", err)
	}
}

func (o *Orchestrator) discard(ctx context.Context, pc *pageContext) {
	pc.sessionID = ""
	pc.history = nil
	if err := o.kv.Delete(ctx, PointerPrefix+pc.key); err != nil {
		o.logger.Warn("Failed to discard session pointer", "page_key", pc.key, "err", err)
	}
}

// report sends the user-facing form of err to the status sink and returns err.
func (o *Orchestrator) report(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	o.sink.Status(domain.StatusMessage(err))
	return err
}
