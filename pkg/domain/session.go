package domain

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// RoundOutcome is the resolution state of a Round.
type RoundOutcome string

const (
	RoundPending RoundOutcome = "pending"
	RoundApplied RoundOutcome = "applied"
	RoundErrored RoundOutcome = "errored"
)

// Round is one instruction → mutation → observation cycle.
type Round struct {
	// Seq starts at 1 and increases by exactly one per Round.
	Seq         int    `json:"seq"`
	Instruction string `json:"instruction"`

	// HasScreenshot records whether the caller attached a screenshot.
	// The image itself is only forwarded upstream, never stored.
	HasScreenshot bool `json:"has_screenshot,omitempty"`

	// Markup is the full resulting page markup.
	// Nil while pending, on error, and when no mutation was warranted.
	Markup *string `json:"markup,omitempty"`

	// Edits is the raw edit decision returned by the interpreter.
	Edits   string `json:"edits,omitempty"`
	Message string `json:"message,omitempty"`

	Observation *Observation `json:"observation,omitempty"`

	Outcome       RoundOutcome `json:"outcome"`
	FailureKind   string       `json:"failure_kind,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Mutated reports whether the round produced new markup for the page.
func (r *Round) Mutated() bool {
	return r.Outcome == RoundApplied && r.Markup != nil
}

// Session is the stateful container for a sequence of Rounds tied to one page context.
type Session struct {
	ID     string        `json:"id"`
	Status SessionStatus `json:"status"`
	Rounds []Round       `json:"rounds"`

	// Markup is the current full page markup (original tags restored).
	Markup string `json:"markup"`

	// ProcessedMarkup is the placeholder form sent upstream.
	ProcessedMarkup string `json:"processed_markup"`

	// Replacements maps placeholders in ProcessedMarkup back to the original elements.
	Replacements map[string]string `json:"replacements,omitempty"`

	ModelType         string `json:"model_type,omitempty"`
	InitialScreenshot string `json:"initial_screenshot,omitempty"`

	// MaxRounds completes the session once reached. Zero means unbounded.
	MaxRounds int `json:"max_rounds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestRound returns the most recent Round, or nil for an empty session.
func (s *Session) LatestRound() *Round {
	if len(s.Rounds) == 0 {
		return nil
	}
	return &s.Rounds[len(s.Rounds)-1]
}

// InFlight reports whether the latest Round is still pending.
func (s *Session) InFlight() bool {
	r := s.LatestRound()
	return r != nil && r.Outcome == RoundPending
}

// NextSeq returns the sequence number the next Round must carry.
func (s *Session) NextSeq() int {
	return len(s.Rounds) + 1
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() *Session {
	c := *s
	c.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		if r.Markup != nil {
			m := *r.Markup
			r.Markup = &m
		}
		if r.Observation != nil {
			o := r.Observation.Clone()
			r.Observation = o
		}
		c.Rounds[i] = r
	}
	if s.Replacements != nil {
		c.Replacements = make(map[string]string, len(s.Replacements))
		for k, v := range s.Replacements {
			c.Replacements[k] = v
		}
	}
	return &c
}

// RoundSummary is the read-only view of a Round returned by status queries.
type RoundSummary struct {
	Seq           int          `json:"seq"`
	Instruction   string       `json:"instruction"`
	Message       string       `json:"message,omitempty"`
	Outcome       RoundOutcome `json:"outcome"`
	Mutated       bool         `json:"mutated"`
	Observed      bool         `json:"observed"`
	FailureKind   string       `json:"failure_kind,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	ErrorObserved bool         `json:"error_observed,omitempty"`
	ResolvedAt    time.Time    `json:"resolved_at,omitempty"`
}

// Summary is the read-only view of a Session used to validate a remembered id.
type Summary struct {
	ID        string         `json:"session_id"`
	Status    SessionStatus  `json:"status"`
	Rounds    []RoundSummary `json:"rounds"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Summarize builds the Summary of a session.
func (s *Session) Summarize() Summary {
	sum := Summary{
		ID:        s.ID,
		Status:    s.Status,
		Rounds:    make([]RoundSummary, 0, len(s.Rounds)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	for _, r := range s.Rounds {
		rs := RoundSummary{
			Seq:           r.Seq,
			Instruction:   r.Instruction,
			Message:       r.Message,
			Outcome:       r.Outcome,
			Mutated:       r.Markup != nil,
			Observed:      r.Observation != nil,
			FailureKind:   r.FailureKind,
			FailureReason: r.FailureReason,
			ResolvedAt:    r.ResolvedAt,
		}
		if r.Observation != nil {
			rs.ErrorObserved = r.Observation.ErrorOccurred
		}
		sum.Rounds = append(sum.Rounds, rs)
	}
	return sum
}

// StartRequest opens a session.
type StartRequest struct {
	Query             string `json:"query"`
	HTML              string `json:"html"`
	InitialScreenshot string `json:"initial_screenshot,omitempty"`
	ModelType         string `json:"model_type,omitempty"`
}

// RoundResult is returned by start and follow-up requests.
type RoundResult struct {
	SessionID string        `json:"session_id"`
	Iteration int           `json:"iteration"`
	Message   string        `json:"message"`
	Outcome   RoundOutcome  `json:"outcome"`
	Status    SessionStatus `json:"status"`

	// UpdatedHTML is absent when no page mutation was warranted.
	UpdatedHTML *string `json:"updated_html,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
}

// ResultForRound builds the RoundResult of r inside s.
func ResultForRound(s *Session, r *Round) *RoundResult {
	res := &RoundResult{
		SessionID: s.ID,
		Iteration: r.Seq,
		Message:   r.Message,
		Outcome:   r.Outcome,
		Status:    s.Status,
		ErrorKind: r.FailureKind,
	}
	if r.Outcome == RoundErrored && res.Message == "" {
		res.Message = r.FailureReason
	}
	if r.Markup != nil {
		m := *r.Markup
		res.UpdatedHTML = &m
	}
	return res
}
