// Package observation samples the page after a mutation and reports what happened.
package observation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

// DefaultSettleDelay lets the page finish loading resources before sampling.
const DefaultSettleDelay = 1500 * time.Millisecond

// ErrSuperseded is returned by a collection replaced by a newer one or cancelled.
var ErrSuperseded = errors.New("observation superseded")

const summaryLineLimit = 160

// Collector runs one collection at a time against a host.
type Collector struct {
	host   ports.Host
	settle time.Duration
	logger *slog.Logger
	now    func() time.Time
	md     *converter.Converter

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Option configures the Collector.
type Option func(*Collector)

// WithSettleDelay sets the wait before the host is sampled.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Collector) {
		if d >= 0 {
			c.settle = d
		}
	}
}

// WithLogger configures a logger for the Collector.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector creates a Collector for host.
func NewCollector(host ports.Host, opts ...Option) *Collector {
	c := &Collector{
		host:   host,
		settle: DefaultSettleDelay,
		logger: logging.NewNop(),
		now:    time.Now,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect waits for the page to settle, probes the host and builds the
// observation of the change from before to after. Starting a new collection
// supersedes the running one, which then returns ErrSuperseded.
func (c *Collector) Collect(ctx context.Context, before, after string) (*domain.Observation, error) {
	ctx, gen := c.begin(ctx)
	defer c.end(gen)

	timer := time.NewTimer(c.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, c.interrupted(ctx, gen)
	}

	report, err := c.host.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.interrupted(ctx, gen)
		}
		return nil, fmt.Errorf("failed to probe host: %w", err)
	}
	if !c.current(gen) {
		return nil, ErrSuperseded
	}

	obs := &domain.Observation{
		Summary:            c.summarize(after),
		ErrorOccurred:      report.Failed(),
		ErrorMessage:       errorMessage(report),
		VisualChangeScore:  ChangeScore(before, after),
		PerformanceMetrics: report.Metrics,
		Screenshot:         report.Screenshot,
		Timestamp:          c.now(),
	}
	c.logger.Debug("Observation collected", "error_occurred", obs.ErrorOccurred, "score", obs.VisualChangeScore)
	return obs, nil
}

// Cancel supersedes the running collection, if any.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Collector) begin(ctx context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return ctx, c.gen
}

func (c *Collector) end(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Collector) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// interrupted tells supersession apart from the caller giving up.
func (c *Collector) interrupted(ctx context.Context, gen uint64) error {
	if !c.current(gen) {
		return ErrSuperseded
	}
	return ctx.Err()
}

// summarize describes the visible content of markup in one line.
func (c *Collector) summarize(markup string) string {
	text, err := c.md.ConvertString(markup)
	if err != nil {
		return ""
	}
	words := len(strings.Fields(text))

	var headline string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*-> "))
		if line != "" {
			headline = line
			break
		}
	}
	if len(headline) > summaryLineLimit {
		headline = strings.ToValidUTF8(headline[:summaryLineLimit], "") + "…"
	}
	if headline == "" {
		return fmt.Sprintf("%d words", words)
	}
	return fmt.Sprintf("%d words, starting with %q", words, headline)
}

func errorMessage(r domain.PageReport) string {
	var parts []string
	if len(r.ErrorLog) > 0 {
		parts = append(parts, strings.Join(r.ErrorLog, "; "))
	}
	if len(r.FailedImages) > 0 {
		parts = append(parts, "failed images: "+strings.Join(r.FailedImages, ", "))
	}
	if len(r.FailedStylesheets) > 0 {
		parts = append(parts, "failed stylesheets: "+strings.Join(r.FailedStylesheets, ", "))
	}
	return strings.Join(parts, " | ")
}
