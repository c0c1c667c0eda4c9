package ports

import (
	"context"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// Turn is one prior exchange fed back to the interpreter as context.
type Turn struct {
	Instruction string
	Message     string
}

// InterpretRequest carries everything the interpreter sees for one round.
type InterpretRequest struct {
	Instruction string
	// Markup is the processed (placeholder) form of the page.
	Markup     string
	Screenshot string
	ModelType  string
	History    []Turn
	// FollowUp is true for every round after the first.
	FollowUp bool
}

// Decision is the interpreter's answer. Empty Edits means no mutation is warranted.
type Decision struct {
	Message string
	Edits   string
}

// Interpreter translates an instruction plus page state into an edit decision.
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) (Decision, error)
}

// Merger applies an edit decision to markup and returns the full result.
type Merger interface {
	Merge(ctx context.Context, markup, edits string) (string, error)
}

// Host is the page the client drives.
type Host interface {
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Markup(ctx context.Context) (string, error)
	ApplyMarkup(ctx context.Context, markup string) error
	Screenshot(ctx context.Context) (string, error)
	// Probe samples the failure signals, metrics and a screenshot of the rendered page.
	Probe(ctx context.Context) (domain.PageReport, error)
}

// Notifier receives push events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Backend is the controller as reached by the client.
type Backend interface {
	Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error)
	Submit(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error)
	Status(ctx context.Context, sessionID string) (*domain.Summary, error)
	Observe(ctx context.Context, sessionID string, obs *domain.Observation) error
	CreateShare(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error)
	FetchShare(ctx context.Context, shareID string) (*domain.ShareRecord, error)
}
