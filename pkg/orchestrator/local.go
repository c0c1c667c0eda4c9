package orchestrator

import (
	"context"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/alexhamidi/anyheart/pkg/session"
	"github.com/alexhamidi/anyheart/pkg/share"
)

// Local runs the backend in-process, for single-user use without a server.
type Local struct {
	Controller *session.Controller
	Shares     *share.Service
}

var _ ports.Backend = (*Local)(nil)

func (l *Local) Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error) {
	return l.Controller.Start(ctx, req)
}

func (l *Local) Submit(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error) {
	return l.Controller.SubmitRound(ctx, sessionID, instruction, screenshot)
}

func (l *Local) Status(ctx context.Context, sessionID string) (*domain.Summary, error) {
	return l.Controller.Status(ctx, sessionID)
}

func (l *Local) Observe(ctx context.Context, sessionID string, obs *domain.Observation) error {
	return l.Controller.AttachObservation(ctx, sessionID, obs)
}

func (l *Local) CreateShare(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error) {
	return l.Shares.Create(ctx, req)
}

func (l *Local) FetchShare(ctx context.Context, shareID string) (*domain.ShareRecord, error) {
	return l.Shares.Fetch(ctx, shareID)
}
