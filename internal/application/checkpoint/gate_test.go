package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

type recorderFunc func(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error

func (f recorderFunc) RecordDecision(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error {
	return f(ctx, r, d)
}

func pendingRun() *run.WorkflowRun {
	return &run.WorkflowRun{
		Slug:   "add-login",
		Status: run.StatusAwaitingConfirmation,
		Pending: &run.PendingCheckpoint{
			Name:  "plan-approval",
			Phase: "plan",
			Options: []run.Option{
				{Value: "approve", Effect: run.EffectContinue},
				{Value: "revise", Effect: run.EffectRetry},
				{Value: "abort", Effect: run.EffectAbort},
			},
		},
	}
}

func TestGate_RequestDecision(t *testing.T) {
	g := NewGate(NewScriptedPrompter("approve"), nil)
	r := pendingRun()

	d, err := g.RequestDecision(context.Background(), r.Pending)
	require.NoError(t, err)
	assert.Equal(t, "approve", d.Option)
	assert.Equal(t, "plan-approval", d.Checkpoint)
	assert.Equal(t, "plan", d.Phase)
	assert.False(t, d.DecidedAt.IsZero())

	_, err = g.RequestDecision(context.Background(), r.Pending)
	assert.ErrorIs(t, err, ErrSuspended, "exhausted script defers")
}

func TestGate_DeferredPrompter(t *testing.T) {
	g := NewGate(nil, nil)
	_, err := g.RequestDecision(context.Background(), pendingRun().Pending)
	assert.ErrorIs(t, err, ErrSuspended)
}

func TestGate_ApplyDecision(t *testing.T) {
	var recorded []run.CheckpointDecision
	g := NewGate(nil, recorderFunc(func(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error {
		recorded = append(recorded, d)
		return nil
	}))

	tests := []struct {
		name    string
		run     *run.WorkflowRun
		option  string
		wantErr error
	}{
		{"offered option", pendingRun(), "revise", nil},
		{"not offered", pendingRun(), "maybe", run.ErrInvalidDecision},
		{"nothing pending", &run.WorkflowRun{Slug: "x", Status: run.StatusRunning}, "approve", run.ErrNoPendingCheckpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded = nil
			err := g.ApplyDecision(context.Background(), tt.run, run.CheckpointDecision{Option: tt.option})
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Empty(t, recorded, "rejected decisions are never recorded")
				return
			}
			require.NoError(t, err)
			require.Len(t, recorded, 1)
			assert.Equal(t, tt.option, recorded[0].Option)
			assert.False(t, recorded[0].DecidedAt.IsZero())
		})
	}
}

func TestScriptedPrompter_Asked(t *testing.T) {
	p := NewScriptedPrompter()
	_, _ = p.Prompt(context.Background(), &run.PendingCheckpoint{Name: "a"})
	_, _ = p.Prompt(context.Background(), &run.PendingCheckpoint{Name: "b"})
	assert.Equal(t, []string{"a", "b"}, p.Asked())
}
