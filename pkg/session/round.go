package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/markup"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

// roundBudget is how long a round may stay pending before it counts as stale.
// A round makes at most two upstream calls, each bounded by the timeout.
func (c *Controller) roundBudget() time.Duration {
	return 2*c.timeout + c.staleGrace
}

type upstreamResult struct {
	decision  ports.Decision
	processed string
	restored  string
	mutated   bool
}

// execute runs the pending latest round of s and persists its resolution.
// s is the snapshot saved when the round was appended.
func (c *Controller) execute(ctx context.Context, s *domain.Session, screenshot string) (*domain.RoundResult, error) {
	pending := s.LatestRound()
	seq := pending.Seq

	c.notify(ctx, domain.Event{
		Type:      domain.EventStatusUpdate,
		SessionID: s.ID,
		Iteration: seq,
		Status:    "processing",
		Message:   "working on it",
		Timestamp: c.now(),
	})

	out, upErr := c.runUpstream(ctx, s, pending, screenshot)

	var (
		resolved *domain.Session
		round    *domain.Round
	)
	// The round must be resolved even when the caller has gone away.
	err := c.withLock(context.WithoutCancel(ctx), s.ID, func(ctx context.Context) error {
		cur, err := c.store.Load(ctx, s.ID)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				return fmt.Errorf("%w: %s was abandoned during round %d", domain.ErrSessionNotFound, s.ID, seq)
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		if len(cur.Rounds) < seq || cur.Rounds[seq-1].Outcome != domain.RoundPending {
			// Resolved elsewhere (stale recovery on another replica).
			resolved, round = cur, &cur.Rounds[len(cur.Rounds)-1]
			return nil
		}

		r := &cur.Rounds[seq-1]
		var result *string
		if upErr == nil && out.mutated {
			m := out.restored
			result = &m
			cur.Markup = out.restored
			cur.ProcessedMarkup = out.processed
		}
		c.resolve(cur, r, out.decision.Message, out.decision.Edits, result, upErr)

		if c.maxRounds > 0 && len(cur.Rounds) >= c.maxRounds && cur.Status == domain.SessionActive {
			cur.Status = domain.SessionCompleted
		}
		if err := c.store.Save(ctx, cur); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		resolved, round = cur, r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.onRoundResolved(ctx, resolved, round)
	res := domain.ResultForRound(resolved, round)
	if upErr != nil {
		return res, upErr
	}
	return res, nil
}

// runUpstream asks the interpreter for a decision and, when it carries
// edits, merges them into the processed markup.
func (c *Controller) runUpstream(ctx context.Context, s *domain.Session, r *domain.Round, screenshot string) (upstreamResult, error) {
	var out upstreamResult

	if screenshot == "" && r.Seq == 1 {
		screenshot = s.InitialScreenshot
	}
	req := ports.InterpretRequest{
		Instruction: r.Instruction,
		Markup:      s.ProcessedMarkup,
		Screenshot:  screenshot,
		ModelType:   s.ModelType,
		History:     history(s.Rounds[:r.Seq-1]),
		FollowUp:    r.Seq > 1,
	}

	err := c.call(ctx, "interpret", func(ctx context.Context) error {
		var err error
		out.decision, err = c.interpreter.Interpret(ctx, req)
		return err
	})
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(out.decision.Edits) == "" {
		return out, nil
	}

	var merged string
	if err := c.call(ctx, "merge", func(ctx context.Context) error {
		var err error
		merged, err = c.merger.Merge(ctx, s.ProcessedMarkup, out.decision.Edits)
		return err
	}); err != nil {
		return out, err
	}
	if strings.TrimSpace(merged) == "" {
		return out, fmt.Errorf("%w: merger returned empty markup", domain.ErrUpstreamError)
	}

	restored := markup.Restore(merged, s.Replacements)
	out.restored = markup.PreserveScripts(restored, merged, out.decision.Edits, s.Replacements)
	out.processed = merged
	out.mutated = true
	return out, nil
}

// call runs one upstream stage under its own timeout and classifies the failure.
func (c *Controller) call(ctx context.Context, stage string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := fn(callCtx)
	if c.metrics != nil {
		c.metrics.UpstreamCall(stage, c.now().Sub(start), err)
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s exceeded %s", domain.ErrUpstreamTimeout, stage, c.timeout)
	case errors.Is(err, domain.ErrUpstreamError), errors.Is(err, domain.ErrContentTooLarge):
		return fmt.Errorf("%s: %w", stage, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamError, stage, err)
	}
}

// resolve moves r out of pending. A nil err with nil markup means no mutation was warranted.
func (c *Controller) resolve(s *domain.Session, r *domain.Round, message, edits string, result *string, err error) {
	now := c.now()
	r.ResolvedAt = now
	r.Message = message
	r.Edits = edits
	s.UpdatedAt = now

	if err != nil {
		r.Outcome = domain.RoundErrored
		r.Markup = nil
		r.FailureKind = domain.Kind(err)
		r.FailureReason = err.Error()
		return
	}
	r.Outcome = domain.RoundApplied
	r.Markup = result
}

// onRoundResolved is the single producer of round notifications.
func (c *Controller) onRoundResolved(ctx context.Context, s *domain.Session, r *domain.Round) {
	if c.metrics != nil {
		c.metrics.RoundResolved(r.Outcome, r.FailureKind)
	}
	if r.Outcome == domain.RoundErrored {
		c.logger.Warn("Round failed", "session_id", s.ID, "round", r.Seq, "kind", r.FailureKind, "err", r.FailureReason)
	} else {
		c.logger.Info("Round applied", "session_id", s.ID, "round", r.Seq, "mutated", r.Markup != nil)
	}

	c.notify(ctx, domain.EventForRound(s.ID, r))

	if s.Status == domain.SessionCompleted {
		c.notify(ctx, domain.Event{
			Type:      domain.EventCompleted,
			SessionID: s.ID,
			Iteration: r.Seq,
			Status:    string(s.Status),
			Message:   "round limit reached",
			Timestamp: c.now(),
		})
	}
}

// history returns prior applied rounds as interpreter context.
func history(rounds []domain.Round) []ports.Turn {
	var turns []ports.Turn
	for _, r := range rounds {
		if r.Outcome != domain.RoundApplied {
			continue
		}
		turns = append(turns, ports.Turn{Instruction: r.Instruction, Message: r.Message})
	}
	return turns
}
