package anyheart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexhamidi/anyheart/internal/config"
	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/internal/metrics"
	"github.com/alexhamidi/anyheart/pkg/adapters/file"
	httpadapter "github.com/alexhamidi/anyheart/pkg/adapters/http"
	mcpadapter "github.com/alexhamidi/anyheart/pkg/adapters/mcp"
	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	openaiadapter "github.com/alexhamidi/anyheart/pkg/adapters/openai"
	redisadapter "github.com/alexhamidi/anyheart/pkg/adapters/redis"
	"github.com/alexhamidi/anyheart/pkg/adapters/sqlite"
	"github.com/alexhamidi/anyheart/pkg/orchestrator"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/alexhamidi/anyheart/pkg/push"
	"github.com/alexhamidi/anyheart/pkg/session"
	"github.com/alexhamidi/anyheart/pkg/share"
	goredis "github.com/redis/go-redis/v9"
)

// Backend is the server side: controller, share store and push hub over the
// configured stores.
type Backend struct {
	Controller *session.Controller
	Shares     *share.Service
	Hub        *push.Hub
	Metrics    *metrics.Recorder

	cfg         *config.Config
	logger      *slog.Logger
	interpreter ports.Interpreter
	merger      ports.Merger
	redis       *goredis.Client
	closers     []func() error
}

// Option configures the Backend.
type Option func(*Backend)

// WithLogger configures a logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithInterpreter replaces the configured OpenAI-compatible interpreter.
func WithInterpreter(i ports.Interpreter) Option {
	return func(b *Backend) {
		b.interpreter = i
	}
}

// WithMerger replaces the configured OpenAI-compatible merger.
func WithMerger(m ports.Merger) Option {
	return func(b *Backend) {
		b.merger = m
	}
}

// WithRedisClient reuses an existing client for the redis storage backend.
func WithRedisClient(client *goredis.Client) Option {
	return func(b *Backend) {
		b.redis = client
	}
}

// New builds a Backend from cfg.
func New(cfg *config.Config, opts ...Option) (*Backend, error) {
	b := &Backend{
		cfg:     cfg,
		logger:  logging.NewNop(),
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(b)
	}

	sessions, records, locker, err := b.stores()
	if err != nil {
		b.Close()
		return nil, err
	}

	if b.interpreter == nil {
		b.interpreter = openaiadapter.NewInterpreter(
			openaiadapter.Config{BaseURL: cfg.Upstream.Interpreter.URL, APIKey: cfg.Upstream.Interpreter.APIKey},
			openaiadapter.WithModel(cfg.Upstream.Interpreter.Model),
			openaiadapter.WithModelMap(cfg.Upstream.Models),
			openaiadapter.WithMaxTokens(cfg.Upstream.MaxTokens),
			openaiadapter.WithLogger(b.logger),
		)
	}
	if b.merger == nil {
		b.merger = openaiadapter.NewMerger(
			openaiadapter.Config{BaseURL: cfg.Upstream.Merger.URL, APIKey: cfg.Upstream.Merger.APIKey},
			openaiadapter.WithMergerModel(cfg.Upstream.Merger.Model),
			openaiadapter.WithMergerTimeout(cfg.Upstream.Timeout),
			openaiadapter.WithMergerLogger(b.logger),
		)
	}

	b.Hub = push.NewHub(
		push.WithLogger(b.logger),
		push.WithSubscriberGauge(b.Metrics.SubscriberDelta),
	)

	ctrlOpts := []session.Option{
		session.WithLogger(b.logger),
		session.WithNotifier(b.Hub),
		session.WithMetrics(b.Metrics),
		session.WithUpstreamTimeout(cfg.Upstream.Timeout),
		session.WithStaleGrace(cfg.Session.StaleGrace),
	}
	if cfg.Session.TokenCeiling > 0 {
		ctrlOpts = append(ctrlOpts, session.WithTokenCeiling(cfg.Session.TokenCeiling))
	}
	if cfg.Session.MaxRounds > 0 {
		ctrlOpts = append(ctrlOpts, session.WithMaxRounds(cfg.Session.MaxRounds))
	}
	if locker != nil {
		ctrlOpts = append(ctrlOpts, session.WithLocker(locker))
	}
	b.Controller = session.NewController(sessions, b.interpreter, b.merger, ctrlOpts...)

	b.Shares = share.NewService(records,
		share.WithLogger(b.logger),
		share.WithMetrics(b.Metrics),
		share.WithDefaultTTL(cfg.Share.TTLDays),
		share.WithIDLength(cfg.Share.IDLength),
	)

	b.logger.Info("Backend ready", "storage", cfg.Storage.Backend, "interpreter_model", cfg.Upstream.Interpreter.Model)
	return b, nil
}

func (b *Backend) stores() (ports.SessionStore, ports.RecordStore, ports.DistributedLocker, error) {
	st := b.cfg.Storage
	switch st.Backend {
	case "redis":
		client := b.redis
		if client == nil {
			client = goredis.NewClient(&goredis.Options{
				Addr:     st.RedisAddr,
				Password: st.RedisPassword,
				DB:       st.RedisDB,
			})
			b.closers = append(b.closers, client.Close)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to reach redis at %s: %w", st.RedisAddr, err)
		}
		return redisadapter.NewFromClient(client, redisadapter.WithTTL(st.SessionTTL)),
			redisadapter.NewRecordStore(client),
			redisadapter.NewLocker(client, "anyheart:lock:"),
			nil
	case "sqlite":
		records, err := sqlite.Open(st.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		b.closers = append(b.closers, records.Close)
		if st.SessionDir != "" {
			return file.New(st.SessionDir), records, nil, nil
		}
		return memory.NewStore(), records, nil, nil
	default:
		return memory.NewStore(), memory.NewRecordStore(), nil, nil
	}
}

// Handler returns the HTTP API.
func (b *Backend) Handler() http.Handler {
	return httpadapter.NewHandler(b.Controller, b.Shares, b.Hub,
		httpadapter.WithLogger(b.logger),
		httpadapter.WithMetricsHandler(b.Metrics.Handler()),
		httpadapter.WithMaxBodyBytes(b.cfg.Server.MaxBodyBytes),
		httpadapter.WithVersion(Version),
	)
}

// MCP returns the MCP server over the same controller.
func (b *Backend) MCP() *mcpadapter.Server {
	return mcpadapter.NewServer(b.Controller, b.Shares, Version, mcpadapter.WithLogger(b.logger))
}

// Local returns the backend as an in-process orchestrator backend.
func (b *Backend) Local() *orchestrator.Local {
	return &orchestrator.Local{Controller: b.Controller, Shares: b.Shares}
}

// SweepReport counts what one sweep removed.
type SweepReport struct {
	Shares   int
	Sessions int
}

// Sweep tombstones expired share records. With storage.session_ttl set it
// also deletes sessions idle for longer than the ttl and forgets their push
// state. Redis expires sessions on its own.
func (b *Backend) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	var errs []error
	n, err := b.Shares.Purge(ctx)
	rep.Shares = n
	errs = append(errs, err)

	if ttl := b.cfg.Storage.SessionTTL; ttl > 0 {
		if b.cfg.Storage.Backend != "redis" {
			n, err := b.Controller.Expire(ctx, ttl)
			rep.Sessions = n
			errs = append(errs, err)
		}
		b.Hub.Prune(time.Now().Add(-ttl))
	}
	return rep, errors.Join(errs...)
}

// RunSweeper sweeps every interval until ctx is done.
func (b *Backend) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := b.Sweep(ctx)
			if err != nil {
				b.logger.Warn("Sweep failed", "err", err)
				continue
			}
			if rep.Shares > 0 || rep.Sessions > 0 {
				b.logger.Info("Sweep", "expired_shares", rep.Shares, "expired_sessions", rep.Sessions)
			}
		}
	}
}

// Close closes the push hub and the stores opened by New.
func (b *Backend) Close() error {
	if b.Hub != nil {
		b.Hub.Close()
	}
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	b.closers = nil
	return errors.Join(errs...)
}
