package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alexhamidi/anyheart/internal/testutils"
	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/session"
	"github.com/alexhamidi/anyheart/pkg/share"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body><p>hello</p></body></html>`

func newTestServer(t *testing.T) (*Server, *testutils.EchoInterpreter) {
	t.Helper()
	interp := &testutils.EchoInterpreter{}
	ctrl := session.NewController(memory.NewStore(), interp, testutils.BodyMerger{})
	shares := share.NewService(memory.NewRecordStore())
	return NewServer(ctrl, shares, "1.2.3\n"), interp
}

func TestTools_SessionFlow(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleStart(ctx, mcp.CallToolRequest{}, startArgs{Query: "shout", HTML: page})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iteration)
	require.NotNil(t, res.UpdatedHTML)
	assert.Contains(t, *res.UpdatedHTML, "<p>shout</p>")

	next, err := s.handleSubmit(ctx, mcp.CallToolRequest{}, roundArgs{SessionID: res.SessionID, Query: "whisper"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Iteration)

	sum, err := s.handleStatus(ctx, mcp.CallToolRequest{}, sessionArgs{SessionID: res.SessionID})
	require.NoError(t, err)
	assert.Len(t, sum.Rounds, 2)

	sum, err = s.handleComplete(ctx, mcp.CallToolRequest{}, sessionArgs{SessionID: res.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, sum.Status)

	_, err = s.handleSubmit(ctx, mcp.CallToolRequest{}, roundArgs{SessionID: res.SessionID, Query: "again"})
	assert.True(t, errors.Is(err, domain.ErrSessionNotActive))
	assert.Contains(t, err.Error(), "session_not_active")
}

func TestTools_ErroredRoundIsAResult(t *testing.T) {
	s, interp := newTestServer(t)
	interp.Fail(domain.ErrUpstreamTimeout)

	res, err := s.handleStart(context.Background(), mcp.CallToolRequest{}, startArgs{Query: "shout", HTML: page})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundErrored, res.Outcome)
	assert.Equal(t, "upstream_timeout", res.ErrorKind)
	assert.NotEmpty(t, res.SessionID)
}

func TestTools_Shares(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	days := 3

	res, err := s.handleCreateShare(ctx, mcp.CallToolRequest{}, shareArgs{URL: "https://example.com/a", HTML: page, ExpiresInDays: &days})
	require.NoError(t, err)

	rec, err := s.handleFetchShare(ctx, mcp.CallToolRequest{}, fetchArgs{ShareID: res.ShareID})
	require.NoError(t, err)
	assert.Equal(t, page, rec.Markup)

	_, err = s.handleFetchShare(ctx, mcp.CallToolRequest{}, fetchArgs{ShareID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestResources_SessionSummary(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	res, err := s.handleStart(ctx, mcp.CallToolRequest{}, startArgs{Query: "shout", HTML: page})
	require.NoError(t, err)

	var req mcp.ReadResourceRequest
	req.Params.URI = sessionURIPrefix + res.SessionID
	contents, err := s.readSession(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var sum domain.Summary
	require.NoError(t, json.Unmarshal([]byte(text.Text), &sum))
	assert.Equal(t, res.SessionID, sum.ID)

	req.Params.URI = "other://x"
	_, err = s.readSession(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
