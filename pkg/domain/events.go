package domain

import "time"

// EventType defines the category of a push event.
type EventType string

const (
	EventApplyEdit    EventType = "apply_edit"
	EventCompleted    EventType = "completed"
	EventError        EventType = "error"
	EventAgentMessage EventType = "agent_message"
	EventStatusUpdate EventType = "status_update"
)

// Statuses of a completed event announcing that its session was deleted.
const (
	StatusAbandoned = "abandoned"
	StatusExpired   = "expired"
)

// Terminal reports whether the event closes the push channel.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventError
}

// Event is a push notification emitted for a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	// Iteration is the Round seq the event refers to.
	Iteration int `json:"iteration"`

	// HTML is only set for apply_edit.
	HTML string `json:"html,omitempty"`

	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Gone reports whether ev announces that its session no longer exists.
func (ev Event) Gone() bool {
	return ev.Type == EventCompleted && (ev.Status == StatusAbandoned || ev.Status == StatusExpired)
}

// EventForRound derives the push event describing a resolved Round.
func EventForRound(sessionID string, r *Round) Event {
	ev := Event{
		SessionID: sessionID,
		Iteration: r.Seq,
		Message:   r.Message,
		Timestamp: r.ResolvedAt,
	}
	switch {
	case r.Outcome == RoundErrored:
		ev.Type = EventError
		ev.ErrorKind = r.FailureKind
		ev.Message = r.FailureReason
	case r.Markup != nil:
		ev.Type = EventApplyEdit
		ev.HTML = *r.Markup
	default:
		ev.Type = EventAgentMessage
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}
