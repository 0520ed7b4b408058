package workflow

import (
	"strings"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// Type is the closed set of workflow definitions
type Type string

const (
	TypeFeature  Type = "feature"
	TypeBugfix   Type = "bugfix"
	TypeHotfix   Type = "hotfix"
	TypeRefactor Type = "refactor"
	TypeResearch Type = "research"
	TypeReview   Type = "review"
	TypeDocs     Type = "docs"
)

// AllTypes lists every workflow type in a stable order
func AllTypes() []Type {
	return []Type{TypeFeature, TypeBugfix, TypeHotfix, TypeRefactor, TypeResearch, TypeReview, TypeDocs}
}

// String returns the string representation of the type
func (t Type) String() string {
	return string(t)
}

// ParseType converts user input into a Type
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTypes() {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// SectionOrder is the fixed ordering of a consolidated artifact.
// An empty order means the phase has a single unsectioned worker.
type SectionOrder []string

// Contains reports whether name is part of the order
func (o SectionOrder) Contains(name string) bool {
	for _, s := range o {
		if s == name {
			return true
		}
	}
	return false
}

// SkipPredicate decides whether an optional phase is bypassed,
// given the most recent checkpoint decision
type SkipPredicate func(last *run.CheckpointDecision) bool

// SkipWhen skips the phase when the last decision chose one of values
func SkipWhen(values ...string) SkipPredicate {
	return func(last *run.CheckpointDecision) bool {
		if last == nil {
			return false
		}
		for _, v := range values {
			if last.Option == v {
				return true
			}
		}
		return false
	}
}

// WorkerDef describes one worker spawned for a phase
type WorkerDef struct {
	Kind       string
	Prompt     string // template; {{name}}, {{prompt}} and {{section}} are substituted
	Section    string
	Background bool
}

// CheckpointDef is a human gate after a phase completes
type CheckpointDef struct {
	Name    string
	Prompt  string
	Options []run.Option
}

// Pending builds the suspend record for this checkpoint
func (c *CheckpointDef) Pending(phase string) *run.PendingCheckpoint {
	return &run.PendingCheckpoint{
		Name:    c.Name,
		Phase:   phase,
		Prompt:  c.Prompt,
		Options: append([]run.Option(nil), c.Options...),
	}
}

// OutputCategory names where a phase's consolidated artifact lands
type OutputCategory string

const (
	CategoryReports OutputCategory = "reports"
	CategoryPlans   OutputCategory = "plans"
)

// PhaseDef is the static definition of one phase
type PhaseDef struct {
	Name           string
	Optional       bool
	Skip           SkipPredicate
	Workers        []WorkerDef
	Sections       SectionOrder
	Checkpoint     *CheckpointDef
	OutputCategory OutputCategory
}

// ShouldSkip reports whether the optional phase is bypassed given the last decision
func (p PhaseDef) ShouldSkip(last *run.CheckpointDecision) bool {
	return p.Optional && p.Skip != nil && p.Skip(last)
}

// IsDirect reports whether the single worker of the phase writes the phase output itself
func (p PhaseDef) IsDirect() bool {
	return p.OutputCategory == CategoryPlans && len(p.Sections) == 0 && len(p.Workers) == 1
}

// Record builds the initial persisted record for this phase
func (p PhaseDef) Record() run.PhaseRecord {
	return run.PhaseRecord{
		Name:     p.Name,
		Optional: p.Optional,
		Workers:  []run.WorkerInvocation{},
		Status:   run.PhaseNotStarted,
	}
}

func (p PhaseDef) clone() PhaseDef {
	c := p
	c.Workers = append([]WorkerDef(nil), p.Workers...)
	c.Sections = append(SectionOrder(nil), p.Sections...)
	if p.Checkpoint != nil {
		cp := *p.Checkpoint
		cp.Options = append([]run.Option(nil), p.Checkpoint.Options...)
		c.Checkpoint = &cp
	}
	return c
}
