package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alexhamidi/anyheart"
	"github.com/alexhamidi/anyheart/internal/config"
	"github.com/alexhamidi/anyheart/internal/presentation/tui"
	"github.com/alexhamidi/anyheart/pkg/adapters/file"
	"github.com/alexhamidi/anyheart/pkg/adapters/rod"
	"github.com/alexhamidi/anyheart/pkg/client"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/orchestrator"
	"github.com/alexhamidi/anyheart/pkg/pagecache"
	"github.com/alexhamidi/anyheart/pkg/persistence/middleware"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

// EditOptions configures an interactive edit session.
type EditOptions struct {
	URL       string
	ModelType string
	// Apply is a share id or link applied once the page is open.
	Apply string
	// Local runs the backend in-process instead of calling BackendURL.
	Local bool
	Debug bool
}

// Edit opens a browser tab on opts.URL and edits it from a prompt on in.
func Edit(ctx context.Context, cfg *config.Config, opts EditOptions, in io.Reader, out *os.File) error {
	if opts.URL == "" {
		return errors.New("a page url is required")
	}
	logger := NewLogger(cfg, true, opts.Debug)
	console := tui.NewConsole(out, tui.Profile(out), tui.NewRenderer(100))
	console.Banner()

	kv, err := OpenStore(cfg.Client)
	if err != nil {
		return err
	}
	cache := pagecache.New(kv,
		pagecache.WithLogger(logger),
		pagecache.WithDebounce(cfg.Client.Debounce),
		pagecache.WithWindow(cfg.Client.Window),
		pagecache.WithRetention(cfg.Client.Retention),
	)
	defer cache.Close()
	if _, err := cache.Sweep(ctx); err != nil {
		logger.Warn("Snapshot sweep failed", "err", err)
	}
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	swept := make(chan struct{})
	go func() {
		defer close(swept)
		cache.RunSweeper(sweepCtx, cfg.Server.SweepInterval)
	}()
	defer func() {
		stopSweeper()
		<-swept
	}()

	backend, closeBackend, err := NewBackend(cfg, opts.Local, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	console.Status("opening " + opts.URL)
	host, err := rod.Open(ctx, opts.URL, rod.Config{
		RemoteURL: cfg.Client.ChromeURL,
		Headful:   cfg.Client.Headful,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Debug("Browser close failed", "err", err)
		}
	}()

	orch := orchestrator.New(backend, host, kv, cache,
		orchestrator.WithLogger(logger),
		orchestrator.WithStatusSink(console),
		orchestrator.WithHostTimeout(cfg.Client.HostTimeout),
		orchestrator.WithModelType(opts.ModelType),
	)
	defer orch.Wait()

	repl := NewREPL(orch, console, out, logger)
	Prepare(ctx, orch, repl, console, opts.Apply)

	if err := repl.Run(ctx, in); err != nil && !isInterrupted(err) {
		return err
	}
	return nil
}

// Resumer restores what the client remembers about the open page.
type Resumer interface {
	Resume(ctx context.Context) (*domain.SessionPointer, error)
	RestoreSnapshot(ctx context.Context) (bool, error)
}

// Prepare resumes the page's session or restores its cached copy, then
// applies a share when one was asked for.
func Prepare(ctx context.Context, r Resumer, repl *REPL, console Console, apply string) {
	ptr, err := r.Resume(ctx)
	switch {
	case err != nil:
		console.Error("could not resume the previous session")
	case ptr != nil:
		console.Status(fmt.Sprintf("resumed session %s (%d messages)", ptr.SessionID, len(ptr.History)))
	}
	if restored, err := r.RestoreSnapshot(ctx); err == nil && restored {
		console.Success("restored your last edits to this page")
	}
	if apply != "" {
		repl.apply(ctx, apply)
	}
}

// OpenStore opens the client's persistent store, encrypted when a key is set.
func OpenStore(cfg config.ClientConfig) (ports.KVStore, error) {
	var kv ports.KVStore = file.NewKV(cfg.StoreDir)
	if cfg.EncryptionKey == "" {
		return kv, nil
	}
	active, err := middleware.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("client.encryption_key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for i, s := range cfg.FallbackKeys {
		k, err := middleware.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("client.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, k)
	}
	return middleware.Chain(kv, middleware.NewEncryptionMiddleware(enc)), nil
}

// NewBackend returns the HTTP client for cfg, or an in-process backend when
// local is set. The returned func releases it.
func NewBackend(cfg *config.Config, local bool, logger *slog.Logger) (ports.Backend, func(), error) {
	if local {
		b, err := anyheart.New(cfg, anyheart.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return b.Local(), func() {
			if err := b.Close(); err != nil {
				logger.Debug("Backend close failed", "err", err)
			}
		}, nil
	}
	c, err := client.New(cfg.Client.BackendURL, client.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return c, func() {}, nil
}

// SweepSnapshots removes client page snapshots past their retention.
func SweepSnapshots(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (int, error) {
	kv, err := OpenStore(cfg)
	if err != nil {
		return 0, err
	}
	cache := pagecache.New(kv, pagecache.WithLogger(logger), pagecache.WithRetention(cfg.Retention))
	defer cache.Close()
	return cache.Sweep(ctx)
}
