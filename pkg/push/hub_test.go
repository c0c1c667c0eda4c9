package push_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_DeliversToSubscribers(t *testing.T) {
	hub := push.NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	hub.Notify(context.Background(), domain.Event{Type: domain.EventStatusUpdate, SessionID: "s1", Iteration: 1})
	hub.Notify(context.Background(), domain.Event{Type: domain.EventApplyEdit, SessionID: "s1", Iteration: 1, HTML: "<p/>"})
	hub.Notify(context.Background(), domain.Event{Type: domain.EventApplyEdit, SessionID: "other", Iteration: 1})

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventStatusUpdate, got[0].Type)
	assert.Equal(t, "<p/>", got[1].HTML)
}

func TestHub_ReplaysLatestUntilAcked(t *testing.T) {
	hub := push.NewHub()
	ctx := context.Background()

	hub.Notify(ctx, domain.Event{Type: domain.EventApplyEdit, SessionID: "s1", Iteration: 1, HTML: "a"})
	hub.Notify(ctx, domain.Event{Type: domain.EventApplyEdit, SessionID: "s1", Iteration: 2, HTML: "b"})

	ch, cancel := hub.Subscribe("s1")
	got := drain(ch)
	cancel()
	require.Len(t, got, 1, "only the latest round state is replayed")
	assert.Equal(t, 2, got[0].Iteration)

	assert.False(t, hub.Ack("s1", 1), "stale acks are ignored")
	assert.True(t, hub.Ack("s1", 2))

	ch, cancel = hub.Subscribe("s1")
	defer cancel()
	assert.Empty(t, drain(ch))
	_, pending := hub.Pending("s1")
	assert.False(t, pending)
}

func TestHub_TerminalEventClosesChannels(t *testing.T) {
	hub := push.NewHub()
	ch, cancel := hub.Subscribe("s1")

	hub.Notify(context.Background(), domain.Event{Type: domain.EventCompleted, SessionID: "s1", Iteration: 3})

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, domain.EventCompleted, ev.Type)
	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after a terminal event")
	assert.Equal(t, 0, hub.Subscribers("s1"))

	// Cancel after close must not panic.
	cancel()
}

func TestHub_ReconnectAfterTerminalGetsReplayAndClose(t *testing.T) {
	hub := push.NewHub()
	hub.Notify(context.Background(), domain.Event{Type: domain.EventError, SessionID: "s1", Iteration: 1, ErrorKind: "upstream_timeout"})

	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, domain.EventError, ev.Type)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := push.NewHub(push.WithBuffer(1))
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	for i := 1; i <= 3; i++ {
		hub.Notify(context.Background(), domain.Event{Type: domain.EventStatusUpdate, SessionID: "s1", Iteration: i})
	}
	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Iteration)
}

func TestHub_SubscriberGauge(t *testing.T) {
	count := 0
	hub := push.NewHub(push.WithSubscriberGauge(func(d int) { count += d }))

	_, cancel1 := hub.Subscribe("s1")
	_, cancel2 := hub.Subscribe("s1")
	assert.Equal(t, 2, count)

	cancel1()
	cancel1()
	assert.Equal(t, 1, count)

	hub.Close()
	assert.Equal(t, 0, count)
	cancel2()
	assert.Equal(t, 0, count)
}

func TestHub_ForgetsDeletedSessions(t *testing.T) {
	hub := push.NewHub()
	ctx := context.Background()

	for i := range 100 {
		id := fmt.Sprintf("s%d", i)
		hub.Notify(ctx, domain.Event{Type: domain.EventApplyEdit, SessionID: id, Iteration: 1, HTML: "<p/>"})
		hub.Notify(ctx, domain.Event{Type: domain.EventCompleted, SessionID: id, Iteration: 1, Status: domain.StatusAbandoned})
	}
	assert.Zero(t, hub.Retained())

	ch, cancel := hub.Subscribe("s1")
	hub.Notify(ctx, domain.Event{Type: domain.EventCompleted, SessionID: "s1", Iteration: 1, Status: domain.StatusExpired})
	ev, ok := <-ch
	require.True(t, ok, "live subscribers still hear about it")
	assert.Equal(t, domain.StatusExpired, ev.Status)
	cancel()
	assert.Zero(t, hub.Retained())
}

func TestHub_Prune(t *testing.T) {
	hub := push.NewHub()
	ctx := context.Background()
	now := time.Now()

	hub.Notify(ctx, domain.Event{Type: domain.EventCompleted, SessionID: "old", Iteration: 2, Timestamp: now.Add(-2 * time.Hour)})
	hub.Notify(ctx, domain.Event{Type: domain.EventApplyEdit, SessionID: "watched", Iteration: 1, Timestamp: now.Add(-2 * time.Hour)})
	hub.Notify(ctx, domain.Event{Type: domain.EventApplyEdit, SessionID: "fresh", Iteration: 1, Timestamp: now})
	_, cancel := hub.Subscribe("watched")
	defer cancel()

	assert.Equal(t, 1, hub.Prune(now.Add(-time.Hour)))
	assert.Equal(t, 2, hub.Retained())
	_, pending := hub.Pending("old")
	assert.False(t, pending)
	_, pending = hub.Pending("fresh")
	assert.True(t, pending)
}
