package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// Name of the checkpoint raised when a phase has failing workers
const FailureCheckpoint = "phase-failure"

// Recorder persists a checkpoint decision and applies its effect
type Recorder interface {
	RecordDecision(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error
}

// Machine owns every transition of a workflow run.
// It is the only component that writes run state.
type Machine struct {
	store     repository.RunStore
	artifacts repository.ArtifactWriter
	catalog   *workflow.Catalog
	journal   repository.JournalRepository
	logger    app.Logger
	now       func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithJournal appends every transition to the run journal
func WithJournal(j repository.JournalRepository) Option {
	return func(m *Machine) { m.journal = j }
}

// WithLogger sets the logger
func WithLogger(l app.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a state machine
func New(store repository.RunStore, artifacts repository.ArtifactWriter, catalog *workflow.Catalog, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		artifacts: artifacts,
		catalog:   catalog,
		logger:    app.GetLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the workflow catalog the machine resolves phases from
func (m *Machine) Catalog() *workflow.Catalog {
	return m.catalog
}

// Definition returns the static definition of the current phase of r
func (m *Machine) Definition(r *run.WorkflowRun, phase string) (workflow.PhaseDef, error) {
	return m.catalog.Lookup(workflow.Type(r.WorkflowType), phase)
}

// CreateRun instantiates a new run of t and persists it in status pending.
// A terminal run under the same slug is archived first; an active one is a DUPLICATE_RUN.
func (m *Machine) CreateRun(ctx context.Context, t workflow.Type, name, prompt string) (*run.WorkflowRun, error) {
	slug := specpath.Slugify(name)
	records, err := m.catalog.Records(t)
	if err != nil {
		return nil, err
	}

	release, err := m.store.Lock(ctx, slug)
	if err != nil {
		return nil, err
	}
	defer m.release(slug, release)

	existing, err := m.store.Load(ctx, slug)
	switch {
	case err == nil:
		if !existing.Status.IsTerminal() {
			return nil, run.ErrDuplicateRun.
				WithMessage("run %q is still %s", slug, existing.Status).
				WithDetail("slug", slug)
		}
		if err := m.store.Archive(ctx, existing); err != nil {
			return nil, fmt.Errorf("archive previous run %s: %w", existing.ID, err)
		}
		m.logger.Info("archived previous run %s (%s)", existing.ID, existing.Status)
	case !isNotFound(err):
		return nil, err
	}

	now := m.now().UTC()
	spec, err := m.artifacts.Write(ctx, repository.WriteRequest{
		Category:  repository.CategorySpecs,
		Slug:      slug,
		Content:   renderSpec(t, name, prompt),
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}

	r := &run.WorkflowRun{
		ID:           run.NewRunID(slug, now),
		Name:         name,
		Slug:         slug,
		WorkflowType: string(t),
		Prompt:       prompt,
		Phases:       records,
		Status:       run.StatusPending,
		SpecRef:      spec.Locator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Save(ctx, r); err != nil {
		return nil, err
	}
	m.record(ctx, r, "create", "", spec.Locator, nil)
	return r, nil
}

// StartPhase moves the current phase to running.
// An optional phase whose skip predicate holds is marked skipped instead;
// callers check the returned record's status.
func (m *Machine) StartPhase(ctx context.Context, r *run.WorkflowRun) (*run.PhaseRecord, error) {
	var started run.PhaseRecord
	event := "start"
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		if next.Pending != nil {
			return run.ErrPhaseNotComplete.WithMessage("run %s is waiting on checkpoint %s", next.Slug, next.Pending.Name)
		}
		p := next.Current()
		if p == nil {
			return run.ErrPhaseNotComplete.WithMessage("run %s has no phase left to start", next.Slug)
		}
		switch p.Status {
		case run.PhaseNotStarted, run.PhaseRunning:
		default:
			return run.ErrPhaseNotComplete.WithMessage("phase %s is %s and cannot be started", p.Name, p.Status)
		}

		def, err := m.Definition(next, p.Name)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		if def.ShouldSkip(next.LastDecision()) {
			p.Status = run.PhaseSkipped
			p.CompletedAt = &now
			event = "skip"
		} else {
			p.Status = run.PhaseRunning
			p.StartedAt = &now
			p.Workers = []run.WorkerInvocation{}
			p.Failures = nil
		}
		next.Status = run.StatusRunning
		started = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, r, event, started.Name, "", nil)
	return &started, nil
}

// CompletePhase marks the current phase done with its output ref in one state write.
// If the run became terminal in the meantime the results are discarded.
func (m *Machine) CompletePhase(ctx context.Context, r *run.WorkflowRun, ref string, workers []run.WorkerInvocation) error {
	if ref == "" {
		return fmt.Errorf("complete phase: output ref is required")
	}
	var phase string
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		p := next.Current()
		if p == nil || p.Status != run.PhaseRunning {
			return run.ErrPhaseNotComplete.WithMessage("run %s has no running phase", next.Slug)
		}
		now := m.now().UTC()
		p.Status = run.PhaseDone
		p.OutputArtifactRef = ref
		p.Workers = append([]run.WorkerInvocation{}, workers...)
		p.Failures = nil
		p.CompletedAt = &now
		phase = p.Name
		return nil
	})
	if err != nil {
		return err
	}
	m.record(ctx, r, "complete", phase, ref, nil)
	return nil
}

// FailPhase marks the current phase failed and blocks the run on a retry/abort checkpoint
func (m *Machine) FailPhase(ctx context.Context, r *run.WorkflowRun, failures []string, workers []run.WorkerInvocation) error {
	var phase string
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		p := next.Current()
		if p == nil {
			return run.ErrPhaseNotComplete.WithMessage("run %s has no current phase", next.Slug)
		}
		now := m.now().UTC()
		p.Status = run.PhaseFailed
		p.OutputArtifactRef = ""
		p.Failures = append([]string{}, failures...)
		p.Workers = append([]run.WorkerInvocation{}, workers...)
		p.CompletedAt = &now
		phase = p.Name

		next.Status = run.StatusBlocked
		next.Pending = &run.PendingCheckpoint{
			Name:   FailureCheckpoint,
			Phase:  p.Name,
			Prompt: fmt.Sprintf("Phase %s failed. Retry it or abort the run?", p.Name),
			Options: []run.Option{
				{Value: workflow.OptionRetry, Label: "Retry the phase", Effect: run.EffectRetry},
				{Value: workflow.OptionAbort, Label: "Abort the run", Effect: run.EffectAbort},
			},
			Reason: strings.Join(failures, "; "),
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.record(ctx, r, "fail", phase, "", fmt.Errorf("%s", strings.Join(failures, "; ")))
	return nil
}

// Suspend persists awaiting-confirmation with the pending checkpoint.
// The state is on disk before any blocking on a decision starts.
func (m *Machine) Suspend(ctx context.Context, r *run.WorkflowRun, pending *run.PendingCheckpoint) error {
	if pending == nil || len(pending.Options) == 0 {
		return fmt.Errorf("suspend: checkpoint with options is required")
	}
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		c := *pending
		c.Options = append([]run.Option(nil), pending.Options...)
		next.Pending = &c
		next.Status = run.StatusAwaitingConfirmation
		return nil
	})
	if err != nil {
		return err
	}
	m.record(ctx, r, "suspend", pending.Phase, "", nil, "checkpoint", pending.Name)
	return nil
}

// Advance moves past the settled current phase and any optional phases
// that the most recent decision skips. It returns nil once the run completed.
func (m *Machine) Advance(ctx context.Context, r *run.WorkflowRun) (*run.PhaseRecord, error) {
	var (
		nextPhase *run.PhaseRecord
		skipped   []string
	)
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		if next.Pending != nil {
			return run.ErrPhaseNotComplete.WithMessage("run %s is waiting on checkpoint %s", next.Slug, next.Pending.Name)
		}
		p := next.Current()
		if p == nil || !p.Status.IsSettled() {
			name := ""
			if p != nil {
				name = p.Name
			}
			return run.ErrPhaseNotComplete.WithMessage("phase %q of run %s is not done", name, next.Slug)
		}

		now := m.now().UTC()
		idx := next.CurrentPhaseIndex + 1
		for ; idx < len(next.Phases); idx++ {
			candidate := &next.Phases[idx]
			if candidate.Status.IsSettled() {
				continue
			}
			def, err := m.Definition(next, candidate.Name)
			if err != nil {
				return err
			}
			if !def.ShouldSkip(next.LastDecision()) {
				break
			}
			candidate.Status = run.PhaseSkipped
			candidate.CompletedAt = &now
			skipped = append(skipped, candidate.Name)
		}
		next.CurrentPhaseIndex = idx
		if idx == len(next.Phases) {
			next.Status = run.StatusCompleted
			return nil
		}
		next.Status = run.StatusRunning
		rec := next.Phases[idx]
		nextPhase = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, name := range skipped {
		m.record(ctx, r, "skip", name, "", nil)
	}
	if nextPhase == nil {
		m.record(ctx, r, "finish", "", "", nil)
		return nil, nil
	}
	m.record(ctx, r, "advance", nextPhase.Name, "", nil)
	return nextPhase, nil
}

// Resume loads a suspended or interrupted run by name.
// It returns the first phase that is neither done nor skipped, or nil when only completion remains.
func (m *Machine) Resume(ctx context.Context, name string) (*run.WorkflowRun, *run.PhaseRecord, error) {
	r, err := m.store.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if r.Status.IsTerminal() {
		return nil, nil, run.ErrRunAlreadyTerminal.
			WithMessage("run %s is already %s", r.Slug, r.Status).
			WithDetail("slug", r.Slug)
	}
	idx := r.FirstUnsettled()
	if idx == len(r.Phases) {
		return r, nil, nil
	}
	p := r.Phases[idx]
	return r, &p, nil
}

// RecordDecision appends the decision and applies the chosen option's effect
func (m *Machine) RecordDecision(ctx context.Context, r *run.WorkflowRun, d run.CheckpointDecision) error {
	var effect run.Effect
	err := m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		if next.Pending == nil {
			return run.ErrNoPendingCheckpoint.WithMessage("run %s is not waiting for a decision", next.Slug)
		}
		opt, ok := next.Pending.Find(d.Option)
		if !ok {
			return run.ErrInvalidDecision.
				WithMessage("option %q is not offered by %s (offered: %s)", d.Option, next.Pending.Name, strings.Join(next.Pending.Values(), ", ")).
				WithDetail("option", d.Option)
		}
		if d.DecidedAt.IsZero() {
			d.DecidedAt = m.now().UTC()
		}
		d.Checkpoint = next.Pending.Name
		d.Phase = next.Pending.Phase
		next.Decisions = append(next.Decisions, d)
		pendingPhase := next.Pending.Phase
		next.Pending = nil
		effect = opt.Effect

		switch opt.Effect {
		case run.EffectContinue:
			next.Status = run.StatusRunning
		case run.EffectRetry:
			for i := range next.Phases {
				if next.Phases[i].Name == pendingPhase {
					resetPhase(&next.Phases[i])
					next.CurrentPhaseIndex = i
					break
				}
			}
			next.Status = run.StatusRunning
		case run.EffectAbort:
			next.Status = run.StatusAborted
		default:
			return run.ErrInvalidDecision.WithMessage("option %q has unknown effect %q", d.Option, opt.Effect)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.record(ctx, r, "decide", d.Phase, "", nil, "option", d.Option, "effect", string(effect))
	return nil
}

// Abort makes the run terminal
func (m *Machine) Abort(ctx context.Context, name string) (*run.WorkflowRun, error) {
	r, err := m.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	err = m.mutate(ctx, r, func(next *run.WorkflowRun) error {
		next.Status = run.StatusAborted
		next.Pending = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, r, "abort", "", "", nil)
	return r, nil
}

// mutate applies fn to the persisted copy of r under the per-slug lock.
// The stored run must be non-terminal and at r's revision; on success r is replaced by the saved state.
func (m *Machine) mutate(ctx context.Context, r *run.WorkflowRun, fn func(next *run.WorkflowRun) error) error {
	release, err := m.store.Lock(ctx, r.Slug)
	if err != nil {
		return err
	}
	defer m.release(r.Slug, release)

	stored, err := m.store.Load(ctx, r.Slug)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return run.ErrRunAlreadyTerminal.
			WithMessage("run %s is already %s", stored.Slug, stored.Status).
			WithDetail("slug", stored.Slug)
	}
	if stored.ID != r.ID || stored.Revision != r.Revision {
		return run.ErrConcurrentUpdate.
			WithMessage("run %s moved to revision %d, caller holds %d", r.Slug, stored.Revision, r.Revision).
			WithDetail("slug", r.Slug)
	}

	next := stored.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := m.store.Save(ctx, next); err != nil {
		return err
	}
	*r = *next
	return nil
}

func (m *Machine) release(slug string, release repository.ReleaseFunc) {
	if err := release(); err != nil {
		m.logger.Warn("failed to release lock for %s: %v", slug, err)
	}
}

func (m *Machine) record(ctx context.Context, r *run.WorkflowRun, event, phase, artifact string, cause error, extra ...string) {
	if m.journal == nil {
		return
	}
	rec := &repository.JournalRecord{
		Timestamp: m.now().UTC().Format(time.RFC3339Nano),
		RunID:     r.ID,
		Event:     event,
		Phase:     phase,
		Status:    string(r.Status),
		Revision:  r.Revision,
		Artifact:  artifact,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if len(extra) > 1 {
		rec.Extra = make(map[string]string, len(extra)/2)
		for i := 0; i+1 < len(extra); i += 2 {
			rec.Extra[extra[i]] = extra[i+1]
		}
	}
	if err := m.journal.Append(ctx, r.Slug, rec); err != nil {
		m.logger.Warn("journal append failed for %s: %v", r.Slug, err)
	}
}

func resetPhase(p *run.PhaseRecord) {
	p.Status = run.PhaseNotStarted
	p.OutputArtifactRef = ""
	p.Failures = nil
	p.Workers = []run.WorkerInvocation{}
	p.StartedAt = nil
	p.CompletedAt = nil
}

func isNotFound(err error) bool {
	return errors.Is(err, run.ErrRunNotFound)
}

func renderSpec(t workflow.Type, name, prompt string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "- workflow: %s\n", t)
	if prompt != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(prompt))
	}
	return []byte(b.String())
}
