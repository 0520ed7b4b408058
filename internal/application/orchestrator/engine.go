package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/application/checkpoint"
	"github.com/YoshitsuguKoike/deerun/internal/application/consolidator"
	"github.com/YoshitsuguKoike/deerun/internal/application/dispatcher"
	"github.com/YoshitsuguKoike/deerun/internal/application/router"
	"github.com/YoshitsuguKoike/deerun/internal/application/statemachine"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
)

// Outcome is where a run stopped when control returned
type Outcome struct {
	Run *run.WorkflowRun
}

// Suspended reports whether the run waits on a checkpoint decision
func (o *Outcome) Suspended() bool {
	return o != nil && o.Run != nil && o.Run.Status == run.StatusAwaitingConfirmation
}

// Engine drives runs phase by phase until they complete or suspend
type Engine struct {
	machine      *statemachine.Machine
	dispatcher   *dispatcher.Dispatcher
	consolidator *consolidator.Consolidator
	gate         *checkpoint.Gate
	store        repository.RunStore
	logger       app.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l app.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New wires the engine
func New(
	machine *statemachine.Machine,
	d *dispatcher.Dispatcher,
	c *consolidator.Consolidator,
	gate *checkpoint.Gate,
	store repository.RunStore,
	opts ...Option,
) *Engine {
	e := &Engine{
		machine:      machine,
		dispatcher:   d,
		consolidator: c,
		gate:         gate,
		store:        store,
		logger:       app.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle executes a routed decision
func (e *Engine) Handle(ctx context.Context, d router.Decision) (*Outcome, error) {
	switch d := d.(type) {
	case router.StartWorkflow:
		return e.Start(ctx, d.Type, d.Name, d.Prompt)
	case router.ResumeWorkflow:
		return e.Resume(ctx, d.Name)
	case router.ShowStatus:
		r, err := e.Status(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		return &Outcome{Run: r}, nil
	case router.AbortWorkflow:
		r, err := e.Abort(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		return &Outcome{Run: r}, nil
	case router.DecideCheckpoint:
		return e.Decide(ctx, d.Name, d.Option, d.Note)
	case router.Reject:
		return nil, run.ErrUnknownWorkflow.WithMessage("%s", d.Reason)
	default:
		return nil, fmt.Errorf("unsupported decision %T", d)
	}
}

// Start creates a run of t and drives it
func (e *Engine) Start(ctx context.Context, t workflow.Type, name, prompt string) (*Outcome, error) {
	r, err := e.machine.CreateRun(ctx, t, name, prompt)
	if err != nil {
		return nil, err
	}
	e.logger.Info("created run %s (%s, %d phases)", r.ID, r.WorkflowType, len(r.Phases))
	return e.drive(ctx, r)
}

// Resume continues a persisted, non-terminal run
func (e *Engine) Resume(ctx context.Context, name string) (*Outcome, error) {
	r, next, err := e.machine.Resume(ctx, name)
	if err != nil {
		return nil, err
	}
	if next != nil {
		e.logger.Info("resuming run %s at phase %s (%s)", r.ID, next.Name, next.Status)
	} else {
		e.logger.Info("resuming run %s: all phases settled", r.ID)
	}
	return e.drive(ctx, r)
}

// Decide answers the pending checkpoint of name and continues the run
func (e *Engine) Decide(ctx context.Context, name, option, note string) (*Outcome, error) {
	r, err := e.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, run.ErrRunAlreadyTerminal.WithMessage("run %s is already %s", r.Slug, r.Status)
	}
	if err := e.gate.ApplyDecision(ctx, r, run.CheckpointDecision{Option: option, Note: note}); err != nil {
		return &Outcome{Run: r}, err
	}
	return e.drive(ctx, r)
}

// Abort makes the run terminal
func (e *Engine) Abort(ctx context.Context, name string) (*run.WorkflowRun, error) {
	r, err := e.machine.Abort(ctx, name)
	if err != nil {
		return nil, err
	}
	e.logger.Info("aborted run %s", r.ID)
	return r, nil
}

// Status reads the last persisted state of name
func (e *Engine) Status(ctx context.Context, name string) (*run.WorkflowRun, error) {
	return e.store.Load(ctx, name)
}

// List returns every persisted run, terminal ones included
func (e *Engine) List(ctx context.Context) ([]*run.WorkflowRun, error) {
	return e.store.List(ctx)
}

// drive loops until the run is terminal or waits on a decision that is not available now
func (e *Engine) drive(ctx context.Context, r *run.WorkflowRun) (*Outcome, error) {
	for {
		if r.Status.IsTerminal() {
			return &Outcome{Run: r}, nil
		}

		if r.Pending != nil {
			stop, err := e.await(ctx, r)
			if stop || err != nil {
				return &Outcome{Run: r}, err
			}
			continue
		}

		p := r.Current()
		if p == nil {
			return &Outcome{Run: r}, fmt.Errorf("run %s has no current phase but is %s", r.Slug, r.Status)
		}

		switch p.Status {
		case run.PhaseDone, run.PhaseSkipped:
			def, err := e.machine.Definition(r, p.Name)
			if err != nil {
				return &Outcome{Run: r}, err
			}
			if p.Status == run.PhaseDone && def.Checkpoint != nil && !decided(r, p) {
				if err := e.machine.Suspend(ctx, r, def.Checkpoint.Pending(p.Name)); err != nil {
					return &Outcome{Run: r}, err
				}
				continue
			}
			next, err := e.machine.Advance(ctx, r)
			if err != nil {
				return &Outcome{Run: r}, err
			}
			if next == nil {
				e.logger.Info("run %s completed", r.ID)
			}

		case run.PhaseNotStarted, run.PhaseRunning:
			if err := e.runPhase(ctx, r); err != nil {
				if errors.Is(err, run.ErrRunAlreadyTerminal) {
					return e.reload(ctx, r)
				}
				return &Outcome{Run: r}, err
			}

		default:
			return &Outcome{Run: r}, run.ErrWorkerFailure.WithMessage("phase %s is %s without a pending checkpoint", p.Name, p.Status)
		}
	}
}

// runPhase executes the current phase and leaves it done or failed
func (e *Engine) runPhase(ctx context.Context, r *run.WorkflowRun) error {
	rec, err := e.machine.StartPhase(ctx, r)
	if err != nil {
		return err
	}
	if rec.Status == run.PhaseSkipped {
		e.logger.Info("skipped optional phase %s", rec.Name)
		return nil
	}

	def, err := e.machine.Definition(r, rec.Name)
	if err != nil {
		return err
	}
	if len(def.Workers) == 0 {
		art, err := e.consolidator.Marker(ctx, consolidator.Request{Run: r, Phase: def.Name, Kind: def.Name})
		if err != nil {
			return err
		}
		e.logger.Info("phase %s has no workers: %s", def.Name, art.Locator)
		return e.machine.CompletePhase(ctx, r, art.Locator, nil)
	}

	e.logger.Info("phase %s: dispatching %d worker(s)", def.Name, len(def.Workers))
	res := e.dispatcher.RunPhase(ctx, r, def)
	if err := e.ensureActive(ctx, r); err != nil {
		return err
	}
	if res.Failed() {
		return e.machine.FailPhase(ctx, r, res.Failures(), res.Invocations)
	}

	category, kind := outputOf(r, def)
	art, err := e.consolidator.Consolidate(ctx, consolidator.Request{
		Run:      r,
		Phase:    def.Name,
		Results:  res.Results,
		Order:    def.Sections,
		Category: category,
		Kind:     kind,
	})
	if err != nil {
		if run.KindOf(err) == run.KindConsolidation {
			e.logger.Warn("phase %s: %v", def.Name, err)
			return e.machine.FailPhase(ctx, r, []string{err.Error()}, res.Invocations)
		}
		return err
	}
	e.logger.Info("phase %s done: %s", def.Name, art.Locator)
	return e.machine.CompletePhase(ctx, r, art.Locator, res.Invocations)
}

// await asks the gate for the pending decision. stop is true when the run stays suspended.
func (e *Engine) await(ctx context.Context, r *run.WorkflowRun) (stop bool, err error) {
	d, err := e.gate.RequestDecision(ctx, r.Pending)
	if errors.Is(err, checkpoint.ErrSuspended) {
		if r.Status == run.StatusBlocked {
			return true, run.ErrWorkerFailure.
				WithMessage("run %s is blocked in phase %s: %s", r.Slug, r.Pending.Phase, r.Pending.Reason).
				WithDetail("phase", r.Pending.Phase)
		}
		e.logger.Info("run %s awaits checkpoint %s (%v)", r.Slug, r.Pending.Name, r.Pending.Values())
		return true, nil
	}
	if err != nil {
		return true, err
	}
	if err := e.gate.ApplyDecision(ctx, r, d); err != nil {
		return true, err
	}
	return false, nil
}

// ensureActive fails with RUN_ALREADY_TERMINAL when the stored run ended while workers ran
func (e *Engine) ensureActive(ctx context.Context, r *run.WorkflowRun) error {
	fresh, err := e.store.Load(ctx, r.Slug)
	if err != nil {
		return err
	}
	if fresh.Status.IsTerminal() {
		return run.ErrRunAlreadyTerminal.WithMessage("run %s is already %s", fresh.Slug, fresh.Status)
	}
	return nil
}

func (e *Engine) reload(ctx context.Context, r *run.WorkflowRun) (*Outcome, error) {
	fresh, err := e.store.Load(ctx, r.Slug)
	if err != nil {
		return &Outcome{Run: r}, err
	}
	e.logger.Warn("run %s became %s while phase was in flight; results discarded", fresh.Slug, fresh.Status)
	return &Outcome{Run: fresh}, nil
}

// decided reports whether the checkpoint after p was answered after p last completed
func decided(r *run.WorkflowRun, p *run.PhaseRecord) bool {
	d := r.DecisionFor(p.Name)
	if d == nil {
		return false
	}
	return p.CompletedAt == nil || !d.DecidedAt.Before(*p.CompletedAt)
}

func outputOf(r *run.WorkflowRun, def workflow.PhaseDef) (repository.Category, string) {
	if def.OutputCategory == workflow.CategoryPlans {
		return repository.CategoryPlans, r.WorkflowType
	}
	return repository.CategoryReports, def.Name
}
