// Package testutils holds fakes shared by package tests.
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// FakeHost is an in-memory page implementing ports.Host.
type FakeHost struct {
	mu sync.Mutex

	PageURL   string
	PageTitle string
	Page      string
	Report    domain.PageReport

	// ApplyDelay stalls ApplyMarkup, honoring the context.
	ApplyDelay time.Duration
	// ProbeDelay stalls Probe, honoring the context.
	ProbeDelay time.Duration
	ApplyErr   error
	ProbeErr   error

	applied []string
	probes  int
}

// NewFakeHost returns a host showing markup at pageURL.
func NewFakeHost(pageURL, markup string) *FakeHost {
	return &FakeHost{PageURL: pageURL, PageTitle: "Test page", Page: markup}
}

func (h *FakeHost) URL(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PageURL, nil
}

func (h *FakeHost) Title(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PageTitle, nil
}

func (h *FakeHost) Markup(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Page, nil
}

func (h *FakeHost) ApplyMarkup(ctx context.Context, markup string) error {
	if err := wait(ctx, h.locked(&h.ApplyDelay)); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ApplyErr != nil {
		return h.ApplyErr
	}
	h.Page = markup
	h.applied = append(h.applied, markup)
	return nil
}

func (h *FakeHost) Screenshot(context.Context) (string, error) {
	return "data:image/png;base64,iVBORw0KGgo=", nil
}

func (h *FakeHost) Probe(ctx context.Context) (domain.PageReport, error) {
	if err := wait(ctx, h.locked(&h.ProbeDelay)); err != nil {
		return domain.PageReport{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes++
	if h.ProbeErr != nil {
		return domain.PageReport{}, h.ProbeErr
	}
	return h.Report, nil
}

// Applied returns every markup applied so far.
func (h *FakeHost) Applied() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.applied...)
}

// Probes returns how many probes completed.
func (h *FakeHost) Probes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probes
}

// Navigate changes the page URL.
func (h *FakeHost) Navigate(pageURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PageURL = pageURL
}

func (h *FakeHost) locked(d *time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *d
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
