// Package rod drives a real Chrome page as the client's host through the
// DevTools protocol.
package rod

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultNavigateTimeout bounds page loads.
const DefaultNavigateTimeout = 30 * time.Second

// Config configures the browser behind a Host.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string

	// Headful shows the browser window of a locally launched Chrome.
	Headful bool

	Logger *slog.Logger
}

// Host implements ports.Host on a single Chrome tab.
type Host struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
	logger  *slog.Logger
	signals *signals
}

var _ ports.Host = (*Host)(nil)

// Open launches or connects to Chrome and navigates a fresh tab to pageURL.
func Open(ctx context.Context, pageURL string, cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	h := &Host{logger: cfg.Logger, signals: newSignals()}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(!cfg.Headful)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		h.logger.Info("browser: launched local chrome", "url", wsURL)
	}

	h.browser = rod.New().ControlURL(wsURL)
	if err := h.browser.Connect(); err != nil {
		h.Close()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	page, err := h.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	h.page = page
	h.listen(ctx)

	if err := h.Navigate(ctx, pageURL); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// listen records the failure signals of the tab until ctx is done.
func (h *Host) listen(ctx context.Context) {
	for _, err := range []error{
		proto.RuntimeEnable{}.Call(h.page),
		proto.NetworkEnable{}.Call(h.page),
		proto.PerformanceEnable{}.Call(h.page),
	} {
		if err != nil {
			h.logger.Warn("browser: enable domain failed", "error", err)
		}
	}

	wait := h.page.Context(ctx).EachEvent(
		func(e *proto.RuntimeExceptionThrown) {
			h.signals.exception(e.ExceptionDetails.Text, exceptionMessage(e))
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type == proto.RuntimeConsoleAPICalledTypeError {
				h.signals.consoleError(consoleText(e))
			}
		},
		func(e *proto.NetworkRequestWillBeSent) {
			h.signals.request(string(e.RequestID), e.Request.URL)
		},
		func(e *proto.NetworkLoadingFailed) {
			h.signals.loadFailed(string(e.RequestID), e.Type, e.ErrorText)
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil {
				h.signals.response(e.Type, e.Response.URL, e.Response.Status)
			}
		},
	)
	go wait()
}

// Navigate loads pageURL and waits for the load event.
func (h *Host) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, DefaultNavigateTimeout)
	defer cancel()

	h.signals.reset()
	if err := h.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := h.page.Context(navCtx).WaitLoad(); err != nil {
		h.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

func (h *Host) URL(ctx context.Context) (string, error) {
	info, err := h.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (h *Host) Title(ctx context.Context) (string, error) {
	info, err := h.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, nil
}

// Markup serialises the complete DOM as outer HTML.
func (h *Host) Markup(ctx context.Context) (string, error) {
	res, err := h.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// ApplyMarkup replaces the document. Failure signals restart from empty.
func (h *Host) ApplyMarkup(ctx context.Context, markup string) error {
	h.signals.reset()
	if err := h.page.Context(ctx).SetDocumentContent(markup); err != nil {
		return fmt.Errorf("browser: set document: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as a PNG data URL.
func (h *Host) Screenshot(ctx context.Context) (string, error) {
	img, err := h.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("browser: screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img), nil
}

const brokenImagesJS = `() => Array.from(document.images)
	.filter(img => img.complete && img.naturalWidth === 0)
	.map(img => img.currentSrc || img.src)`

const brokenStylesheetsJS = `() => Array.from(document.querySelectorAll('link[rel~="stylesheet"]'))
	.filter(link => link.href && !link.sheet)
	.map(link => link.href)`

// Probe samples the recorded failure signals, broken images and unloaded
// stylesheets still in the DOM, performance counters and a screenshot.
func (h *Host) Probe(ctx context.Context) (domain.PageReport, error) {
	report := h.signals.report()

	res, err := h.page.Context(ctx).Eval(brokenImagesJS)
	if err != nil {
		return domain.PageReport{}, fmt.Errorf("browser: inspect images: %w", err)
	}
	for _, src := range res.Value.Arr() {
		report.FailedImages = appendUnique(report.FailedImages, src.Str())
	}
	res, err = h.page.Context(ctx).Eval(brokenStylesheetsJS)
	if err != nil {
		return domain.PageReport{}, fmt.Errorf("browser: inspect stylesheets: %w", err)
	}
	for _, href := range res.Value.Arr() {
		report.FailedStylesheets = appendUnique(report.FailedStylesheets, href.Str())
	}

	if perf, err := (proto.PerformanceGetMetrics{}).Call(h.page.Context(ctx)); err == nil {
		report.Metrics = make(map[string]float64, len(perf.Metrics))
		for _, m := range perf.Metrics {
			report.Metrics[m.Name] = m.Value
		}
	} else {
		h.logger.Debug("browser: performance metrics unavailable", "error", err)
	}

	shot, err := h.Screenshot(ctx)
	if err != nil {
		h.logger.Warn("browser: probe screenshot failed", "error", err)
	}
	report.Screenshot = shot
	return report, nil
}

// Close closes the tab and shuts Chrome down when it was launched here.
func (h *Host) Close() error {
	if h.page != nil {
		h.page.Close()
	}
	if h.browser != nil {
		h.browser.Close()
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return nil
}

func exceptionMessage(e *proto.RuntimeExceptionThrown) string {
	if ex := e.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
		return ex.Description
	}
	return ""
}

func consoleText(e *proto.RuntimeConsoleAPICalled) string {
	var out string
	for i, arg := range e.Args {
		if i > 0 {
			out += " "
		}
		if arg.Description != "" {
			out += arg.Description
			continue
		}
		out += arg.Value.String()
	}
	return out
}

// signals accumulates page failures between probes.
type signals struct {
	mu     sync.Mutex
	urls   map[string]string
	errors []string
	images []string
	styles []string
}

func newSignals() *signals {
	return &signals{urls: make(map[string]string)}
}

func (s *signals) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = make(map[string]string)
	s.errors, s.images, s.styles = nil, nil, nil
}

func (s *signals) exception(text, description string) {
	if description != "" {
		text = description
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, text)
}

func (s *signals) consoleError(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, "console.error: "+text)
}

func (s *signals) request(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[id] = url
}

func (s *signals) loadFailed(id string, kind proto.NetworkResourceType, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := s.urls[id]
	if url == "" {
		url = reason
	}
	s.failed(kind, url)
}

// response records images and stylesheets served with an error status.
func (s *signals) response(kind proto.NetworkResourceType, url string, status int) {
	if status < 400 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed(kind, url)
}

// failed must be called with s.mu held.
func (s *signals) failed(kind proto.NetworkResourceType, url string) {
	switch kind {
	case proto.NetworkResourceTypeImage:
		s.images = appendUnique(s.images, url)
	case proto.NetworkResourceTypeStylesheet:
		s.styles = appendUnique(s.styles, url)
	}
}

func (s *signals) report() domain.PageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.PageReport{
		ErrorLog:          append([]string(nil), s.errors...),
		FailedImages:      append([]string(nil), s.images...),
		FailedStylesheets: append([]string(nil), s.styles...),
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
