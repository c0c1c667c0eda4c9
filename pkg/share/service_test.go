package share_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/internal/idgen"
	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/share"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type countingMetrics struct {
	created int
	views   map[string]int
}

func (m *countingMetrics) ShareCreated() { m.created++ }
func (m *countingMetrics) ShareViewed(outcome string) {
	if m.views == nil {
		m.views = map[string]int{}
	}
	m.views[outcome]++
}

func days(n int) *int { return &n }

func newService(c *clock, opts ...share.Option) (*share.Service, *memory.RecordStore) {
	store := memory.NewRecordStore()
	opts = append([]share.Option{share.WithClock(c.now)}, opts...)
	return share.NewService(store, opts...), store
}

func TestService_CreateAndFetch(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := &countingMetrics{}
	svc, store := newService(c, share.WithMetrics(m))
	ctx := context.Background()

	res, err := svc.Create(ctx, domain.ShareRequest{
		URL:         "https://example.com/pricing?plan=pro",
		HTML:        "<html><body>dark</body></html>",
		Title:       "<b>Dark</b> pricing",
		Description: "<script>alert(1)</script>night mode",
	})
	require.NoError(t, err)
	assert.True(t, idgen.IsShareID(res.ShareID, idgen.DefaultShareIDLength))
	assert.Equal(t, c.t.Add(30*24*time.Hour), res.ExpiresAt)
	assert.Contains(t, res.ShareableURL, "aid="+res.ShareID)
	assert.Contains(t, res.ShareableURL, "plan=pro", "the original query is kept")

	id, ok := share.IDFromLink(res.ShareableURL)
	require.True(t, ok)
	assert.Equal(t, res.ShareID, id)

	rec, err := svc.Fetch(ctx, res.ShareID)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>dark</body></html>", rec.Markup)
	assert.Equal(t, "Dark pricing", rec.Title)
	assert.Equal(t, "night mode", rec.Description)

	stored, err := store.Get(ctx, res.ShareID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.ViewCount)
	assert.Equal(t, 1, m.created)
	assert.Equal(t, 1, m.views["ok"])
}

func TestService_IdsAreNotContentDerived(t *testing.T) {
	svc, _ := newService(&clock{t: time.Now()})
	ctx := context.Background()
	req := domain.ShareRequest{URL: "https://example.com/", HTML: "<p>same</p>"}

	a, err := svc.Create(ctx, req)
	require.NoError(t, err)
	b, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ShareID, b.ShareID)
}

func TestService_Expiry(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	svc, _ := newService(c)
	ctx := context.Background()

	res, err := svc.Create(ctx, domain.ShareRequest{URL: "https://example.com/a", HTML: "<p>x</p>", ExpiresInDays: days(1)})
	require.NoError(t, err)

	c.t = c.t.Add(23 * time.Hour)
	_, err = svc.Fetch(ctx, res.ShareID)
	require.NoError(t, err)

	c.t = c.t.Add(time.Hour)
	_, err = svc.Fetch(ctx, res.ShareID)
	assert.ErrorIs(t, err, domain.ErrRecordExpired, "expiry is exclusive")

	n, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Fetch(ctx, res.ShareID)
	assert.ErrorIs(t, err, domain.ErrRecordExpired, "purged records still report expired")
}

func TestService_ZeroTTLExpiresImmediately(t *testing.T) {
	svc, _ := newService(&clock{t: time.Now()})
	ctx := context.Background()

	res, err := svc.Create(ctx, domain.ShareRequest{URL: "https://example.com/a", HTML: "<p>x</p>", ExpiresInDays: days(0)})
	require.NoError(t, err)
	_, err = svc.Fetch(ctx, res.ShareID)
	assert.ErrorIs(t, err, domain.ErrRecordExpired)
}

func TestService_NotFound(t *testing.T) {
	svc, _ := newService(&clock{t: time.Now()})

	_, err := svc.Fetch(context.Background(), strings.Repeat("a", idgen.DefaultShareIDLength))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	_, err = svc.Fetch(context.Background(), "../../etc")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newService(&clock{t: time.Now()})
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.ShareRequest
	}{
		{"empty markup", domain.ShareRequest{URL: "https://example.com/", HTML: " "}},
		{"relative url", domain.ShareRequest{URL: "/pricing", HTML: "<p>x</p>"}},
		{"negative ttl", domain.ShareRequest{URL: "https://example.com/", HTML: "<p>x</p>", ExpiresInDays: days(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestVerifyTarget(t *testing.T) {
	rec := &domain.ShareRecord{ID: "abc", OriginalURL: "https://example.com/pricing?plan=pro"}

	assert.NoError(t, share.VerifyTarget(rec, "https://EXAMPLE.com/pricing/#top"))
	assert.ErrorIs(t, share.VerifyTarget(rec, "https://example.com/about"), domain.ErrPageMismatch)
	assert.ErrorIs(t, share.VerifyTarget(rec, "https://other.com/pricing"), domain.ErrPageMismatch)
}
