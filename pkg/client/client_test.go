package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexhamidi/anyheart/pkg/client"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestClient_Start(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agent/start", r.URL.Path)
		var req domain.StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "make it dark", req.Query)

		html := "<p>dark</p>"
		_ = json.NewEncoder(w).Encode(domain.RoundResult{SessionID: "s1", Iteration: 1, Outcome: domain.RoundApplied, UpdatedHTML: &html})
	})

	res, err := c.Start(context.Background(), domain.StartRequest{Query: "make it dark", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	require.NotNil(t, res.UpdatedHTML)
	assert.Equal(t, "<p>dark</p>", *res.UpdatedHTML)
}

func TestClient_ErroredRoundCarriesResult(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error":"upstream_timeout","message":"the edit service timed out, try again","session_id":"s1","iteration":2,"outcome":"errored"}`))
	})

	res, err := c.Submit(context.Background(), "s1", "again", "")
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Iteration)
	assert.Equal(t, domain.RoundErrored, res.Outcome)

	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
}

func TestClient_ErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusNotFound, `{"error":"session_not_found","message":"session not found, start a new one"}`, domain.ErrSessionNotFound},
		{http.StatusConflict, `{"error":"round_in_flight","message":"still working on the previous request"}`, domain.ErrRoundInFlight},
		{http.StatusGone, `{"error":"record_expired","message":"this share link has expired, ask for a fresh one"}`, domain.ErrRecordExpired},
		{http.StatusRequestEntityTooLarge, ``, domain.ErrContentTooLarge},
		{http.StatusBadGateway, `not json`, domain.ErrUpstreamError},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Status(context.Background(), "s1")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClient_Shares(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/share":
			_ = json.NewEncoder(w).Encode(domain.ShareResult{ShareID: "abc123defg", ShareableURL: "https://example.com/?aid=abc123defg"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/share/abc123defg":
			_ = json.NewEncoder(w).Encode(domain.ShareRecord{OriginalURL: "https://example.com/", Markup: "<p>dark</p>"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	res, err := c.CreateShare(ctx, domain.ShareRequest{URL: "https://example.com/", HTML: "<p>dark</p>"})
	require.NoError(t, err)
	assert.Equal(t, "abc123defg", res.ShareID)

	rec, err := c.FetchShare(ctx, "abc123defg")
	require.NoError(t, err)
	assert.Equal(t, "abc123defg", rec.ID)
	assert.Equal(t, "<p>dark</p>", rec.Markup)
}

func TestClient_NoContent(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, []string{"/agent/s1/observation", "/agent/s1/ack", "/agent/s1"}, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	assert.NoError(t, c.Observe(ctx, "s1", &domain.Observation{Summary: "ok"}))
	assert.NoError(t, c.Ack(ctx, "s1", 1))
	assert.NoError(t, c.Abandon(ctx, "s1"))
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := client.New("localhost")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
