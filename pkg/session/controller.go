package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexhamidi/anyheart/internal/idgen"
	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/markup"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

const (
	// DefaultUpstreamTimeout bounds each interpreter and merger call.
	DefaultUpstreamTimeout = 30 * time.Second
	// DefaultMaxRounds completes a session after this many rounds.
	DefaultMaxRounds = 10
	// DefaultStaleGrace is added to the upstream timeout before a pending round counts as stale.
	DefaultStaleGrace = 30 * time.Second
)

// Metrics receives controller measurements. Implementations must be safe for concurrent use.
type Metrics interface {
	RoundResolved(outcome domain.RoundOutcome, kind string)
	UpstreamCall(stage string, d time.Duration, err error)
}

// Controller owns session lifecycle and round sequencing.
type Controller struct {
	store       ports.SessionStore
	interpreter ports.Interpreter
	merger      ports.Merger
	notifier    ports.Notifier
	metrics     Metrics

	locks   *lockTable
	counter *markup.Counter
	logger  *slog.Logger

	newID func() string
	now   func() time.Time

	timeout        time.Duration
	staleGrace     time.Duration
	tokenCeiling   int
	maxRounds      int
	maxInstruction int
}

// Option configures the Controller.
type Option func(*Controller)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Controller) {
		c.locks.locker = locker
	}
}

// WithLogger configures a logger for the Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithNotifier sets the push sink for resolved rounds.
func WithNotifier(n ports.Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithMetrics records round outcomes and upstream latency.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithUpstreamTimeout bounds every upstream call.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStaleGrace sets how long past the upstream timeout a pending round may linger.
func WithStaleGrace(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.staleGrace = d
		}
	}
}

// WithTokenCeiling sets the merger input ceiling in tokens. Zero disables the check.
func WithTokenCeiling(n int) Option {
	return func(c *Controller) {
		c.tokenCeiling = n
	}
}

// WithMaxRounds completes a session once it holds n rounds. Zero means unbounded.
func WithMaxRounds(n int) Option {
	return func(c *Controller) {
		c.maxRounds = n
	}
}

// WithMaxInstructionSize limits instruction length in bytes.
func WithMaxInstructionSize(n int) Option {
	return func(c *Controller) {
		c.maxInstruction = n
	}
}

// WithTokenCounter overrides the token counter.
func WithTokenCounter(counter *markup.Counter) Option {
	return func(c *Controller) {
		c.counter = counter
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a Controller backed by the given store and upstream services.
func NewController(store ports.SessionStore, interpreter ports.Interpreter, merger ports.Merger, opts ...Option) *Controller {
	c := &Controller{
		store:        store,
		interpreter:  interpreter,
		merger:       merger,
		notifier:     nopNotifier{},
		locks:        newLockTable(),
		counter:      markup.NewCounter(),
		logger:       logging.NewNop(),
		newID:        idgen.SessionID,
		now:          time.Now,
		timeout:      DefaultUpstreamTimeout,
		staleGrace:   DefaultStaleGrace,
		tokenCeiling: markup.DefaultTokenCeiling,
		maxRounds:    DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Held locks must outlive the longest legitimate round.
	if ttl := c.roundBudget(); ttl > c.locks.lockTTL {
		c.locks.lockTTL = ttl
	}
	return c
}

// MaxRounds returns the configured round ceiling.
func (c *Controller) MaxRounds() int {
	return c.maxRounds
}

// Start creates a session with Round 1 and runs it synchronously.
//
// Validation failures (empty instruction, markup over the ceiling) fail fast
// and create nothing. Once the session exists, an upstream failure resolves
// the round as errored: the result is returned together with the error so
// callers still learn the session id.
func (c *Controller) Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error) {
	instruction, err := markup.SanitizeInstruction(req.Query, c.maxInstruction)
	if err != nil {
		return nil, err
	}
	if req.HTML == "" {
		return nil, fmt.Errorf("%w: markup is empty", domain.ErrInvalidInput)
	}

	processed := markup.Process(req.HTML)
	if err := c.counter.CheckBudget(processed.Markup, c.tokenCeiling); err != nil {
		return nil, err
	}

	now := c.now()
	s := &domain.Session{
		ID:                c.newID(),
		Status:            domain.SessionActive,
		Markup:            req.HTML,
		ProcessedMarkup:   processed.Markup,
		Replacements:      processed.Replacements,
		ModelType:         req.ModelType,
		InitialScreenshot: req.InitialScreenshot,
		MaxRounds:         c.maxRounds,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.Rounds = append(s.Rounds, domain.Round{
		Seq:           1,
		Instruction:   instruction,
		HasScreenshot: req.InitialScreenshot != "",
		Outcome:       domain.RoundPending,
		StartedAt:     now,
	})

	err = c.withLock(ctx, s.ID, func(ctx context.Context) error {
		return c.store.Save(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.logger.Info("Session started", "session_id", s.ID, "model_type", s.ModelType)

	return c.execute(ctx, s, req.InitialScreenshot)
}

// SubmitRound appends a new round to an active session and runs it.
// It fails fast, without touching the session, when the previous round is still pending.
func (c *Controller) SubmitRound(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error) {
	instruction, err := markup.SanitizeInstruction(instruction, c.maxInstruction)
	if err != nil {
		return nil, err
	}

	var snapshot *domain.Session
	err = c.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status != domain.SessionActive {
			return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotActive, sessionID, s.Status)
		}
		if s.InFlight() {
			return fmt.Errorf("%w: round %d is pending", domain.ErrRoundInFlight, s.LatestRound().Seq)
		}
		if err := c.counter.CheckBudget(s.ProcessedMarkup, c.tokenCeiling); err != nil {
			return err
		}

		now := c.now()
		s.Rounds = append(s.Rounds, domain.Round{
			Seq:           s.NextSeq(),
			Instruction:   instruction,
			HasScreenshot: screenshot != "",
			Outcome:       domain.RoundPending,
			StartedAt:     now,
		})
		s.UpdatedAt = now
		if err := c.store.Save(ctx, s); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c.execute(ctx, snapshot, screenshot)
}

// Status returns the read-only summary of a session.
func (c *Controller) Status(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var sum domain.Summary
	err := c.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}
		sum = s.Summarize()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// AttachObservation attaches obs to the most recent applied round that mutated
// the page. It is a no-op when that round already has an observation or when
// no such round exists. It never starts a round.
func (c *Controller) AttachObservation(ctx context.Context, sessionID string, obs *domain.Observation) error {
	if obs == nil {
		return fmt.Errorf("%w: observation is empty", domain.ErrInvalidInput)
	}
	return c.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}

		var target *domain.Round
		for i := len(s.Rounds) - 1; i >= 0; i-- {
			if s.Rounds[i].Mutated() {
				target = &s.Rounds[i]
				break
			}
		}
		if target == nil || target.Observation != nil {
			c.logger.Debug("Observation ignored", "session_id", sessionID)
			return nil
		}

		attached := obs.Clone()
		if attached.Timestamp.IsZero() {
			attached.Timestamp = c.now()
		}
		if attached.VisualChangeScore < 0 {
			attached.VisualChangeScore = 0
		} else if attached.VisualChangeScore > 1 {
			attached.VisualChangeScore = 1
		}
		target.Observation = attached
		s.UpdatedAt = c.now()
		c.logger.Debug("Observation attached", "session_id", sessionID, "round", target.Seq, "error_occurred", attached.ErrorOccurred)
		return c.store.Save(ctx, s)
	})
}

// Complete ends an active session. Completing an already completed session
// returns its summary unchanged.
func (c *Controller) Complete(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var (
		sum       domain.Summary
		completed bool
	)
	err := c.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}
		switch s.Status {
		case domain.SessionCompleted:
			sum = s.Summarize()
			return nil
		case domain.SessionFailed:
			return fmt.Errorf("%w: session %s failed", domain.ErrSessionNotActive, sessionID)
		}
		if s.InFlight() {
			return fmt.Errorf("%w: round %d is pending", domain.ErrRoundInFlight, s.LatestRound().Seq)
		}
		s.Status = domain.SessionCompleted
		s.UpdatedAt = c.now()
		if err := c.store.Save(ctx, s); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		sum = s.Summarize()
		completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed {
		c.notify(ctx, domain.Event{
			Type:      domain.EventCompleted,
			SessionID: sessionID,
			Iteration: len(sum.Rounds),
			Status:    string(domain.SessionCompleted),
			Timestamp: c.now(),
		})
	}
	return &sum, nil
}

// Abandon deletes a session at the client's request and closes its push channel.
func (c *Controller) Abandon(ctx context.Context, sessionID string) error {
	var rounds int
	err := c.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}
		rounds = len(s.Rounds)
		return c.store.Delete(ctx, sessionID)
	})
	if err != nil {
		return err
	}
	c.logger.Info("Session abandoned", "session_id", sessionID)
	c.notify(ctx, domain.Event{
		Type:      domain.EventCompleted,
		SessionID: sessionID,
		Iteration: rounds,
		Status:    domain.StatusAbandoned,
		Timestamp: c.now(),
	})
	return nil
}

// Expire deletes every session not updated within idle and closes their
// push channels. It returns how many sessions were deleted.
func (c *Controller) Expire(ctx context.Context, idle time.Duration) (int, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	cutoff := c.now().Add(-idle)

	var n int
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		var rounds int
		expired := false
		err := c.withLock(ctx, id, func(ctx context.Context) error {
			s, err := c.store.Load(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return nil
				}
				return err
			}
			if !s.UpdatedAt.Before(cutoff) {
				return nil
			}
			rounds = len(s.Rounds)
			expired = true
			return c.store.Delete(ctx, id)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		if !expired {
			continue
		}
		n++
		c.notify(ctx, domain.Event{
			Type:      domain.EventCompleted,
			SessionID: id,
			Iteration: rounds,
			Status:    domain.StatusExpired,
			Message:   "session expired",
			Timestamp: c.now(),
		})
	}
	if n > 0 {
		c.logger.Info("Idle sessions expired", "count", n, "idle", idle)
	}
	return n, errors.Join(errs...)
}

// load reads a session and resolves a stale pending round left by a crashed process.
// Must be called under the session lock.
func (c *Controller) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := c.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	r := s.LatestRound()
	if r == nil || r.Outcome != domain.RoundPending {
		return s, nil
	}
	if c.now().Sub(r.StartedAt) <= c.roundBudget() {
		return s, nil
	}

	c.logger.Warn("Recovering stale pending round", "session_id", s.ID, "round", r.Seq)
	c.resolve(s, r, "", "", nil, fmt.Errorf("%w: round was abandoned mid-flight", domain.ErrUpstreamTimeout))
	if err := c.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save recovered session: %w", err)
	}
	c.onRoundResolved(ctx, s, r)
	return s, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Event) {}

func (c *Controller) notify(ctx context.Context, ev domain.Event) {
	c.notifier.Notify(ctx, ev)
}
