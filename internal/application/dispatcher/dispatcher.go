package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/application/port/output"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
)

// WorkerResult is what the dispatcher learns from one worker: a locator or an error
type WorkerResult struct {
	InvocationID string
	Kind         string
	Section      string
	Locator      string
	Err          error
}

// PhaseResult holds one entry per spawned worker, in spawn order
type PhaseResult struct {
	Invocations []run.WorkerInvocation
	Results     []WorkerResult
}

// Failed reports whether any worker failed
func (r PhaseResult) Failed() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Failures lists "kind[section]: reason" for every failed worker
func (r PhaseResult) Failures() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err == nil {
			continue
		}
		label := res.Kind
		if res.Section != "" {
			label += "[" + res.Section + "]"
		}
		out = append(out, fmt.Sprintf("%s: %v", label, res.Err))
	}
	return out
}

// Successful returns the results that produced a locator
func (r PhaseResult) Successful() []WorkerResult {
	out := make([]WorkerResult, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

// Dispatcher fans a phase out to isolated workers and joins them all
type Dispatcher struct {
	registry  output.WorkerRegistry
	artifacts repository.ArtifactWriter
	pool      *WorkerPool
	logger    app.Logger
	language  string
	now       func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPool sets per-kind concurrency limits
func WithPool(pool *WorkerPool) Option {
	return func(d *Dispatcher) { d.pool = pool }
}

// WithLogger sets the logger
func WithLogger(logger app.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDocumentLanguage appends a language instruction to every prompt
func WithDocumentLanguage(lang string) Option {
	return func(d *Dispatcher) { d.language = lang }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher
func New(registry output.WorkerRegistry, artifacts repository.ArtifactWriter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		artifacts: artifacts,
		pool:      NewWorkerPool(nil),
		logger:    app.GetLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunPhase starts every worker of def concurrently and returns only after all of them finished.
// A failing worker never cancels its siblings.
func (d *Dispatcher) RunPhase(ctx context.Context, r *run.WorkflowRun, def workflow.PhaseDef) PhaseResult {
	n := len(def.Workers)
	result := PhaseResult{
		Invocations: make([]run.WorkerInvocation, n),
		Results:     make([]WorkerResult, n),
	}
	ts := d.now()

	for i, w := range def.Workers {
		result.Invocations[i] = run.WorkerInvocation{
			ID:              uuid.NewString(),
			WorkerKind:      w.Kind,
			InputPrompt:     d.render(w, r),
			AssignedSection: w.Section,
			RunInBackground: w.Background,
			Status:          run.WorkerSpawned,
		}
	}

	// errgroup without WithContext: the group is a join barrier only, every goroutine returns nil
	var g errgroup.Group
	for i := range result.Invocations {
		i := i
		inv := result.Invocations[i]
		g.Go(func() error {
			res := d.runOne(ctx, r, def, inv, ts)
			result.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range result.Results {
		inv := &result.Invocations[i]
		if res.Err != nil {
			inv.Status = run.WorkerFailed
			inv.FailureReason = res.Err.Error()
			d.logger.Warn("worker %s (%s) failed in phase %s: %v", inv.ID, inv.WorkerKind, def.Name, res.Err)
			continue
		}
		inv.Status = run.WorkerDone
		inv.Locator = res.Locator
		d.logger.Debug("worker %s (%s) done: %s", inv.ID, inv.WorkerKind, res.Locator)
	}
	return result
}

func (d *Dispatcher) runOne(ctx context.Context, r *run.WorkflowRun, def workflow.PhaseDef, inv run.WorkerInvocation, ts time.Time) (res WorkerResult) {
	res = WorkerResult{InvocationID: inv.ID, Kind: inv.WorkerKind, Section: inv.AssignedSection}

	defer func() {
		if p := recover(); p != nil {
			res.Locator = ""
			res.Err = run.ErrWorkerFailure.WithMessage("worker %s panicked: %v", inv.WorkerKind, p)
			d.logger.Error("worker %s panic: %v\n%s", inv.ID, p, debug.Stack())
		}
	}()

	worker, ok := d.registry.Lookup(inv.WorkerKind)
	if !ok {
		res.Err = run.ErrUnknownWorkerKind.WithMessage("no worker registered for kind %q", inv.WorkerKind)
		return res
	}

	if err := d.pool.Acquire(ctx, inv.WorkerKind); err != nil {
		res.Err = run.ErrWorkerFailure.WithMessage("worker %s never started", inv.WorkerKind).Wrap(err)
		return res
	}
	defer d.pool.Release(inv.WorkerKind)

	inv.Status = run.WorkerRunning
	locator, err := worker.Run(ctx, output.Task{
		RunID:        r.ID,
		Slug:         r.Slug,
		WorkflowType: r.WorkflowType,
		Phase:        def.Name,
		Invocation:   inv,
		Artifacts:    d.artifacts,
		Timestamp:    ts,
		Direct:       def.IsDirect(),
	})
	if err != nil {
		res.Err = err
		return res
	}
	if locator == "" {
		res.Err = run.ErrWorkerFailure.WithMessage("worker %s returned no locator", inv.WorkerKind)
		return res
	}
	res.Locator = locator
	return res
}

// render substitutes the template variables of a worker prompt
func (d *Dispatcher) render(w workflow.WorkerDef, r *run.WorkflowRun) string {
	replacer := strings.NewReplacer(
		"{{name}}", r.Name,
		"{{prompt}}", r.Prompt,
		"{{section}}", w.Section,
		"{{type}}", r.WorkflowType,
	)
	prompt := strings.TrimSpace(replacer.Replace(w.Prompt))
	if r.SpecRef != "" {
		prompt += "\n\nRequest spec: " + r.SpecRef
	}
	if d.language != "" {
		prompt += "\n\nWrite every document in " + d.language + "."
	}
	return prompt
}
