// Package push fans session events out to live subscribers.
//
// The Hub is the transport-agnostic end of the controller's notifications:
// SSE and WebSocket handlers subscribe to it. Delivery is best effort. The
// latest round event of each session is retained until acknowledged and is
// replayed to subscribers that connect after it was published, so a client
// that missed a push reconciles without receiving the full history. Nothing
// is retained for a session announced as deleted.
package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 10

type subscriber struct {
	ch     chan domain.Event
	closed bool
}

type latest struct {
	ev    domain.Event
	acked bool
}

// Hub implements ports.Notifier.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
	latest      map[string]*latest

	buffer  int
	logger  *slog.Logger
	onCount func(delta int)
}

// Option configures the Hub.
type Option func(*Hub)

// WithLogger configures a logger for the Hub.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithSubscriberGauge is called with +1 and -1 as subscribers come and go.
func WithSubscriberGauge(fn func(delta int)) Option {
	return func(h *Hub) {
		h.onCount = fn
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		latest:      make(map[string]*latest),
		buffer:      DefaultBuffer,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for sessionID. The unacknowledged latest
// round event, if any, is delivered first. The channel is closed after a
// terminal event or when cancel is called.
func (h *Hub) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan domain.Event, h.buffer)}
	if l, ok := h.latest[sessionID]; ok && !l.acked {
		sub.ch <- l.ev
		if l.ev.Type.Terminal() {
			sub.closed = true
			close(sub.ch)
			return sub.ch, func() {}
		}
	}

	if _, ok := h.subscribers[sessionID]; !ok {
		h.subscribers[sessionID] = make(map[*subscriber]struct{})
	}
	h.subscribers[sessionID][sub] = struct{}{}
	h.count(1)

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(sessionID, sub)
	}
}

// Notify publishes ev to every subscriber of its session without blocking.
func (h *Hub) Notify(ctx context.Context, ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type != domain.EventStatusUpdate {
		h.latest[ev.SessionID] = &latest{ev: ev}
	}

	subs := h.subscribers[ev.SessionID]
	h.logger.Debug("Hub: Broadcasting", "session_id", ev.SessionID, "type", ev.Type, "subscribers", len(subs))
	for sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// Drop message if channel is full (slow client)
			h.logger.Warn("Hub: Subscriber buffer full, dropping event", "session_id", ev.SessionID, "type", ev.Type)
		}
		if ev.Type.Terminal() {
			h.drop(ev.SessionID, sub)
		}
	}
	if ev.Gone() {
		delete(h.latest, ev.SessionID)
	}
}

// Ack marks the latest event of a session as delivered when iteration matches.
// It reports whether anything was acknowledged.
func (h *Hub) Ack(sessionID string, iteration int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.latest[sessionID]
	if !ok || l.ev.Iteration != iteration {
		return false
	}
	if l.ev.Type == domain.EventCompleted {
		delete(h.latest, sessionID)
		return true
	}
	l.acked = true
	return true
}

// Prune forgets the latest event of every session without subscribers that
// was published before cutoff, and returns how many were forgotten.
func (h *Hub) Prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for id, l := range h.latest {
		if len(h.subscribers[id]) == 0 && l.ev.Timestamp.Before(cutoff) {
			delete(h.latest, id)
			n++
		}
	}
	return n
}

// Retained returns how many sessions have a latest event held.
func (h *Hub) Retained() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.latest)
}

// Pending returns the latest event of a session while it is unacknowledged.
func (h *Hub) Pending(sessionID string) (domain.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.latest[sessionID]
	if !ok || l.acked {
		return domain.Event{}, false
	}
	return l.ev, true
}

// Subscribers returns the number of live subscribers of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.subscribers {
		for sub := range subs {
			h.drop(id, sub)
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(sessionID string, sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if subs, ok := h.subscribers[sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
	h.count(-1)
}

func (h *Hub) count(delta int) {
	if h.onCount != nil {
		h.onCount(delta)
	}
}
