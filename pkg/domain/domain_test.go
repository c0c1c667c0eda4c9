package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePageKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/page?x=1#top", "https://example.com/page"},
		{"https://example.com/page/", "https://example.com/page"},
		{"https://example.com", "https://example.com/"},
		{"example.com/page", "https://example.com/page"},
		{"http://example.com:8080/a/b", "http://example.com:8080/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePageKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizePageKey("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSamePage(t *testing.T) {
	assert.True(t, SamePage("https://a.com/x?q=1", "https://a.com/x#frag"))
	assert.False(t, SamePage("https://a.com/x", "https://a.com/y"))
	assert.False(t, SamePage("https://a.com/x", "https://b.com/x"))
	assert.False(t, SamePage("http://a.com/x", "https://a.com/x"))
}

func TestKindAndStatusMessage(t *testing.T) {
	wrapped := fmt.Errorf("round 2: %w", ErrUpstreamTimeout)
	assert.Equal(t, "upstream_timeout", Kind(wrapped))
	assert.Equal(t, "internal", Kind(fmt.Errorf("boom")))
	assert.Equal(t, "", Kind(nil))

	expired := StatusMessage(ErrRecordExpired)
	missing := StatusMessage(ErrRecordNotFound)
	assert.NotEqual(t, expired, missing)
	assert.Contains(t, expired, "expired")

	for _, c := range errorClasses {
		msg := StatusMessage(c.err)
		assert.Equal(t, msg, strings.ToLower(msg), "message for %s must be lower-case", c.kind)
		assert.Equal(t, c.err, ErrorForKind(c.kind))
	}
	assert.Equal(t, ErrUpstreamError, ErrorForKind("bogus"))
}

func TestSessionSnapshotIsDeep(t *testing.T) {
	m := "<html></html>"
	s := &Session{
		ID:           "s1",
		Rounds:       []Round{{Seq: 1, Markup: &m, Outcome: RoundApplied, Observation: &Observation{PerformanceMetrics: map[string]float64{"a": 1}}}},
		Replacements: map[string]string{"__sc1__": "<script></script>"},
	}
	c := s.Snapshot()
	*c.Rounds[0].Markup = "changed"
	c.Rounds[0].Observation.PerformanceMetrics["a"] = 2
	c.Replacements["__sc1__"] = "x"

	assert.Equal(t, "<html></html>", *s.Rounds[0].Markup)
	assert.Equal(t, 1.0, s.Rounds[0].Observation.PerformanceMetrics["a"])
	assert.Equal(t, "<script></script>", s.Replacements["__sc1__"])
}

func TestEventForRound(t *testing.T) {
	m := "<p>hi</p>"
	ev := EventForRound("s1", &Round{Seq: 2, Outcome: RoundApplied, Markup: &m, Message: "done"})
	assert.Equal(t, EventApplyEdit, ev.Type)
	assert.Equal(t, 2, ev.Iteration)
	assert.Equal(t, m, ev.HTML)

	ev = EventForRound("s1", &Round{Seq: 1, Outcome: RoundApplied, Message: "nothing to change"})
	assert.Equal(t, EventAgentMessage, ev.Type)
	assert.Empty(t, ev.HTML)

	ev = EventForRound("s1", &Round{Seq: 3, Outcome: RoundErrored, FailureKind: "upstream_timeout", FailureReason: "timed out", ResolvedAt: time.Now()})
	assert.Equal(t, EventError, ev.Type)
	assert.True(t, ev.Type.Terminal())
	assert.Equal(t, "upstream_timeout", ev.ErrorKind)
}

func TestShareRecordExpiry(t *testing.T) {
	now := time.Now()
	r := &ShareRecord{ID: "abc", ExpiresAt: now.Add(time.Hour)}
	assert.False(t, r.Expired(now))
	assert.True(t, r.Expired(now.Add(time.Hour)))

	ts := r.Tombstoned()
	assert.True(t, ts.Expired(now))
	assert.Empty(t, ts.Markup)
}

func TestPersistableHistoryDropsSystem(t *testing.T) {
	h := []ConversationEntry{{Role: RoleUser, Content: "a"}, {Role: RoleSystem, Content: "working"}, {Role: RoleAssistant, Content: "b"}}
	out := PersistableHistory(h)
	require.Len(t, out, 2)
	assert.Equal(t, RoleAssistant, out[1].Role)
}
