package observation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/internal/testutils"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/observation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const before = `<html><body><h1>Pricing</h1><p class="lead">Plans for everyone</p></body></html>`

func TestCollector_CleanPage(t *testing.T) {
	host := testutils.NewFakeHost("https://example.com/", before)
	host.Report = domain.PageReport{
		Metrics:    map[string]float64{"dom_content_loaded_ms": 120},
		Screenshot: "data:image/png;base64,AAAA",
	}
	c := observation.NewCollector(host, observation.WithSettleDelay(0))

	after := `<html><body><h1>Pricing</h1><p class="lead dark">Plans for everyone</p></body></html>`
	obs, err := c.Collect(context.Background(), before, after)
	require.NoError(t, err)

	assert.False(t, obs.ErrorOccurred)
	assert.Empty(t, obs.ErrorMessage)
	assert.Greater(t, obs.VisualChangeScore, 0.0)
	assert.Less(t, obs.VisualChangeScore, 1.0)
	assert.Equal(t, 120.0, obs.PerformanceMetrics["dom_content_loaded_ms"])
	assert.Equal(t, "data:image/png;base64,AAAA", obs.Screenshot)
	assert.Contains(t, obs.Summary, "Pricing")
	assert.False(t, obs.Timestamp.IsZero())
}

func TestCollector_FailureSignals(t *testing.T) {
	cases := []struct {
		name   string
		report domain.PageReport
		want   string
	}{
		{"console error", domain.PageReport{ErrorLog: []string{"TypeError: x is undefined"}}, "TypeError"},
		{"broken image", domain.PageReport{FailedImages: []string{"/logo.png"}}, "failed images: /logo.png"},
		{"broken stylesheet", domain.PageReport{FailedStylesheets: []string{"/site.css"}}, "failed stylesheets: /site.css"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := testutils.NewFakeHost("https://example.com/", before)
			host.Report = tc.report
			c := observation.NewCollector(host, observation.WithSettleDelay(0))

			obs, err := c.Collect(context.Background(), before, before)
			require.NoError(t, err)
			assert.True(t, obs.ErrorOccurred)
			assert.Contains(t, obs.ErrorMessage, tc.want)
		})
	}
}

func TestCollector_NewCollectionSupersedes(t *testing.T) {
	host := testutils.NewFakeHost("https://example.com/", before)
	c := observation.NewCollector(host, observation.WithSettleDelay(200*time.Millisecond))

	first := make(chan error, 1)
	go func() {
		_, err := c.Collect(context.Background(), before, before)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	obs, err := c.Collect(context.Background(), before, before)
	require.NoError(t, err)
	require.NotNil(t, obs)

	assert.ErrorIs(t, <-first, observation.ErrSuperseded)
	assert.Equal(t, 1, host.Probes(), "the superseded collection never samples")
}

func TestCollector_Cancel(t *testing.T) {
	host := testutils.NewFakeHost("https://example.com/", before)
	c := observation.NewCollector(host, observation.WithSettleDelay(time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := c.Collect(context.Background(), before, before)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, observation.ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("cancelled collection did not return")
	}
}

func TestCollector_CallerCancellation(t *testing.T) {
	host := testutils.NewFakeHost("https://example.com/", before)
	c := observation.NewCollector(host, observation.WithSettleDelay(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Collect(ctx, before, before)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, observation.ErrSuperseded))
}

func TestCollector_ProbeError(t *testing.T) {
	host := testutils.NewFakeHost("https://example.com/", before)
	host.ProbeErr = errors.New("tab crashed")
	c := observation.NewCollector(host, observation.WithSettleDelay(0))

	_, err := c.Collect(context.Background(), before, before)
	assert.ErrorContains(t, err, "tab crashed")
}

func TestChangeScore(t *testing.T) {
	assert.Equal(t, 0.0, observation.ChangeScore(before, before))

	small := `<html><body><h1>Pricing</h1><p class="lead">Plans for all</p></body></html>`
	large := `<html><body><h1 style="color:red">Prices</h1><div><p>Totally new copy with many more words in it</p><img src="/a.png"></div></body></html>`

	s1 := observation.ChangeScore(before, small)
	s2 := observation.ChangeScore(before, large)
	assert.Greater(t, s1, 0.0)
	assert.Greater(t, s2, s1, "bigger edits score higher")
	assert.Less(t, s2, 1.0)
	assert.Equal(t, s2, observation.ChangeScore(before, large), "deterministic")
}
