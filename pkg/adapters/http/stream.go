package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SubscribeEvents handles GET /agent/{id}/events (SSE). The stream ends after
// a terminal event.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}
	if _, err := s.Sessions.Status(r.Context(), id); err != nil {
		s.writeError(w, "SubscribeEvents", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Info("SSE: Subscribing to session events", "session_id", id)
	ch, cancel := s.Hub.Subscribe(id)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Client disconnected", "session_id", id)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("SSE: Event encode failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// wsMessage is a client frame on the WebSocket transport.
type wsMessage struct {
	Type       string `json:"type"`
	Iteration  int    `json:"iteration,omitempty"`
	Query      string `json:"query,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

type wsError struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wsConn serialises writes to a connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// SubscribeWebSocket handles GET /agent/{id}/ws. Besides pushing events it
// accepts ack frames and request frames that run a follow-up round.
func (s *Server) SubscribeWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.Sessions.Status(r.Context(), id); err != nil {
		s.writeError(w, "SubscribeWebSocket", err)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	done := make(chan struct{})
	resub := make(chan chan struct{})
	pumped := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(pumped)
		s.pump(id, conn, resub, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	s.logger.Info("WebSocket: Client connected", "session_id", id)
	rounds := context.WithoutCancel(r.Context())
	for {
		var msg wsMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket: Read failed", "session_id", id, "error", err)
			}
			return
		}

		switch msg.Type {
		case "ack":
			s.Hub.Ack(id, msg.Iteration)
		case "request":
			// A new request implies the previous terminal event was seen.
			if ev, ok := s.Hub.Pending(id); ok && ev.Type.Terminal() {
				s.Hub.Ack(id, ev.Iteration)
			}
			ready := make(chan struct{})
			select {
			case resub <- ready:
				<-ready
			case <-pumped:
				return
			}
			wg.Add(1)
			go func(msg wsMessage) {
				defer wg.Done()
				res, err := s.Sessions.SubmitRound(rounds, id, msg.Query, msg.Screenshot)
				if err != nil && res == nil {
					// Errored rounds are pushed by the hub; rejections are not.
					conn.send(wsError{Type: string(domain.EventError), Error: domain.Kind(err), Message: domain.StatusMessage(err)})
				}
			}(msg)
		default:
			conn.send(wsError{Type: string(domain.EventError), Error: domain.Kind(domain.ErrInvalidInput), Message: "unknown message type"})
		}
	}
}

// pump forwards hub events to the connection. After a terminal event closes
// the subscription it waits for a resubscribe request.
func (s *Server) pump(id string, conn *wsConn, resub <-chan chan struct{}, done <-chan struct{}) {
	ch, cancel := s.Hub.Subscribe(id)
	defer func() { cancel() }()
	for {
		select {
		case <-done:
			return
		case ready := <-resub:
			if ch == nil {
				ch, cancel = s.Hub.Subscribe(id)
			}
			close(ready)
		case ev, ok := <-ch:
			if !ok {
				cancel()
				ch, cancel = nil, func() {}
				continue
			}
			if err := conn.send(ev); err != nil {
				s.logger.Warn("WebSocket: Write failed", "session_id", id, "error", err)
				return
			}
		}
	}
}
