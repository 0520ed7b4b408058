package checkpoint

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/application/statemachine"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// ErrSuspended is returned by a prompter that leaves the decision to a later process
var ErrSuspended = errors.New("checkpoint: decision deferred")

// Answer is what a prompter collected
type Answer struct {
	Option string
	Note   string
}

// Prompter asks a human to pick one of the offered options
type Prompter interface {
	Prompt(ctx context.Context, pending *run.PendingCheckpoint) (Answer, error)
}

// Gate pauses a run until a decision is made and records it
type Gate struct {
	prompter Prompter
	recorder statemachine.Recorder
	now      func() time.Time
}

// NewGate creates a gate that records decisions through recorder
func NewGate(prompter Prompter, recorder statemachine.Recorder) *Gate {
	if prompter == nil {
		prompter = DeferredPrompter{}
	}
	return &Gate{prompter: prompter, recorder: recorder, now: time.Now}
}

// RequestDecision asks the prompter for a decision on pending.
// ErrSuspended means the run stays suspended; it is not a failure.
func (g *Gate) RequestDecision(ctx context.Context, pending *run.PendingCheckpoint) (run.CheckpointDecision, error) {
	if pending == nil {
		return run.CheckpointDecision{}, run.ErrNoPendingCheckpoint
	}
	answer, err := g.prompter.Prompt(ctx, pending)
	if err != nil {
		return run.CheckpointDecision{}, err
	}
	return run.CheckpointDecision{
		Checkpoint: pending.Name,
		Phase:      pending.Phase,
		Option:     strings.TrimSpace(answer.Option),
		Note:       answer.Note,
		DecidedAt:  g.now().UTC(),
	}, nil
}

// ApplyDecision validates d against the options r is waiting on and records it.
// An option that is not offered leaves the run suspended.
func (g *Gate) ApplyDecision(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error {
	if r.Pending == nil {
		return run.ErrNoPendingCheckpoint.WithMessage("run %s is not waiting for a decision", r.Slug)
	}
	if _, ok := r.Pending.Find(d.Option); !ok {
		return run.ErrInvalidDecision.
			WithMessage("option %q is not offered by %s (offered: %s)", d.Option, r.Pending.Name, strings.Join(r.Pending.Values(), ", ")).
			WithDetail("option", d.Option).
			WithDetail("checkpoint", r.Pending.Name)
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = g.now().UTC()
	}
	return g.recorder.RecordDecision(ctx, r, d)
}
