package run

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkflowRun is one execution of a named workflow.
// It is the resumability record and is never deleted automatically.
type WorkflowRun struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	Slug              string               `json:"slug"`
	WorkflowType      string               `json:"workflow_type"`
	Prompt            string               `json:"prompt,omitempty"`
	Phases            []PhaseRecord        `json:"phases"`
	CurrentPhaseIndex int                  `json:"current_phase_index"`
	Status            Status               `json:"status"`
	Pending           *PendingCheckpoint   `json:"pending,omitempty"`
	Decisions         []CheckpointDecision `json:"decisions,omitempty"`
	SpecRef           string               `json:"spec_ref,omitempty"`
	Revision          int                  `json:"revision"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// PhaseRecord is one phase within a run
type PhaseRecord struct {
	Name              string             `json:"name"`
	Optional          bool               `json:"optional,omitempty"`
	Workers           []WorkerInvocation `json:"workers"`
	OutputArtifactRef string             `json:"output_artifact_ref,omitempty"`
	Status            PhaseStatus        `json:"status"`
	Failures          []string           `json:"failures,omitempty"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// WorkerInvocation is one spawned worker task.
// Its result is a locator into the artifact store or a failure reason, never content.
type WorkerInvocation struct {
	ID              string       `json:"id"`
	WorkerKind      string       `json:"worker_kind"`
	InputPrompt     string       `json:"input_prompt"`
	AssignedSection string       `json:"assigned_section,omitempty"`
	RunInBackground bool         `json:"run_in_background,omitempty"`
	Status          WorkerStatus `json:"status"`
	Locator         string       `json:"locator,omitempty"`
	FailureReason   string       `json:"failure_reason,omitempty"`
}

// Effect is what a checkpoint option does to the run once chosen
type Effect string

const (
	EffectContinue Effect = "continue"
	EffectRetry    Effect = "retry"
	EffectAbort    Effect = "abort"
)

// Option is one answer offered at a checkpoint
type Option struct {
	Value  string `json:"value"`
	Label  string `json:"label,omitempty"`
	Effect Effect `json:"effect"`
}

// PendingCheckpoint is the decision a suspended run is waiting for
type PendingCheckpoint struct {
	Name    string   `json:"name"`
	Phase   string   `json:"phase"`
	Prompt  string   `json:"prompt,omitempty"`
	Options []Option `json:"options"`
	Reason  string   `json:"reason,omitempty"`
}

// Find returns the offered option matching value
func (p *PendingCheckpoint) Find(value string) (Option, bool) {
	for _, o := range p.Options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}

// Values returns the offered option values in order
func (p *PendingCheckpoint) Values() []string {
	values := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		values = append(values, o.Value)
	}
	return values
}

// CheckpointDecision is a human response recorded before the run advances
type CheckpointDecision struct {
	Checkpoint string    `json:"checkpoint"`
	Phase      string    `json:"phase"`
	Option     string    `json:"option"`
	Note       string    `json:"note,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// NewRunID derives a stable identifier from the slug and creation time
func NewRunID(slug string, createdAt time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(createdAt), entropy)
	return fmt.Sprintf("%s-%s", slug, id.String())
}

// Current returns the phase at CurrentPhaseIndex, or nil past the end
func (r *WorkflowRun) Current() *PhaseRecord {
	if r.CurrentPhaseIndex < 0 || r.CurrentPhaseIndex >= len(r.Phases) {
		return nil
	}
	return &r.Phases[r.CurrentPhaseIndex]
}

// Phase returns the named phase, or nil
func (r *WorkflowRun) Phase(name string) *PhaseRecord {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i]
		}
	}
	return nil
}

// FirstUnsettled returns the index of the first phase that is neither done nor skipped
func (r *WorkflowRun) FirstUnsettled() int {
	for i := range r.Phases {
		if !r.Phases[i].Status.IsSettled() {
			return i
		}
	}
	return len(r.Phases)
}

// LastDecision returns the most recent decision, or nil
func (r *WorkflowRun) LastDecision() *CheckpointDecision {
	if len(r.Decisions) == 0 {
		return nil
	}
	d := r.Decisions[len(r.Decisions)-1]
	return &d
}

// DecisionFor returns the most recent decision recorded for a phase checkpoint
func (r *WorkflowRun) DecisionFor(phase string) *CheckpointDecision {
	for i := len(r.Decisions) - 1; i >= 0; i-- {
		if r.Decisions[i].Phase == phase {
			d := r.Decisions[i]
			return &d
		}
	}
	return nil
}

// Validate checks the structural invariants of the run
func (r *WorkflowRun) Validate() error {
	if r.ID == "" || r.Slug == "" {
		return fmt.Errorf("run: id and slug are required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("run %s: invalid status %q", r.ID, r.Status)
	}
	if r.CurrentPhaseIndex < 0 || r.CurrentPhaseIndex > len(r.Phases) {
		return fmt.Errorf("run %s: current phase index %d out of range [0,%d]", r.ID, r.CurrentPhaseIndex, len(r.Phases))
	}
	for i, p := range r.Phases {
		hasRef := p.OutputArtifactRef != ""
		if hasRef != (p.Status == PhaseDone) {
			return fmt.Errorf("run %s: phase[%d] %q has status %s with output ref %q", r.ID, i, p.Name, p.Status, p.OutputArtifactRef)
		}
	}
	if r.Status == StatusAwaitingConfirmation && r.Pending == nil {
		return fmt.Errorf("run %s: awaiting confirmation without a pending checkpoint", r.ID)
	}
	return nil
}

// Clone returns a deep copy of the run
func (r *WorkflowRun) Clone() *WorkflowRun {
	c := *r
	if r.Phases != nil {
		c.Phases = make([]PhaseRecord, len(r.Phases))
	}
	for i, p := range r.Phases {
		if p.Workers != nil {
			p.Workers = append(make([]WorkerInvocation, 0, len(p.Workers)), p.Workers...)
		}
		if p.Failures != nil {
			p.Failures = append(make([]string, 0, len(p.Failures)), p.Failures...)
		}
		p.StartedAt = cloneTime(p.StartedAt)
		p.CompletedAt = cloneTime(p.CompletedAt)
		c.Phases[i] = p
	}
	if r.Pending != nil {
		pending := *r.Pending
		pending.Options = append([]Option(nil), r.Pending.Options...)
		c.Pending = &pending
	}
	if r.Decisions != nil {
		c.Decisions = append(make([]CheckpointDecision, 0, len(r.Decisions)), r.Decisions...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
