package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// Catalog holds the statically known phase lists per workflow type
type Catalog struct {
	mu     sync.RWMutex
	phases map[Type][]PhaseDef
}

// NewCatalog creates a catalog preloaded with the built-in workflows
func NewCatalog() *Catalog {
	c := &Catalog{phases: make(map[Type][]PhaseDef)}
	for t, defs := range builtin() {
		c.phases[t] = defs
	}
	return c
}

// Register replaces or adds the definition for a workflow type
func (c *Catalog) Register(t Type, defs []PhaseDef) error {
	if t == "" {
		return fmt.Errorf("workflow type is required")
	}
	if len(defs) == 0 {
		return fmt.Errorf("workflow %s: at least one phase is required", t)
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("workflow %s: phase name is required", t)
		}
		if seen[d.Name] {
			return fmt.Errorf("workflow %s: duplicate phase %q", t, d.Name)
		}
		seen[d.Name] = true
		if len(d.Workers) == 0 && d.Checkpoint == nil {
			return fmt.Errorf("workflow %s: phase %q has neither workers nor a checkpoint", t, d.Name)
		}
	}

	copied := make([]PhaseDef, len(defs))
	for i, d := range defs {
		copied[i] = d.clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases[t] = copied
	return nil
}

// Has reports whether the type is defined
func (c *Catalog) Has(t Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.phases[t]
	return ok
}

// Types returns the defined workflow types sorted by name
func (c *Catalog) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]Type, 0, len(c.phases))
	for t := range c.phases {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Phases returns a fresh copy of the phase list for t
func (c *Catalog) Phases(t Type) ([]PhaseDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs, ok := c.phases[t]
	if !ok {
		return nil, run.ErrUnknownWorkflow.WithMessage("unknown workflow type %q", t)
	}
	out := make([]PhaseDef, len(defs))
	for i, d := range defs {
		out[i] = d.clone()
	}
	return out, nil
}

// Lookup returns the definition of one phase of t.
// Persisted records carry no predicates or checkpoints; those are reattached from here.
func (c *Catalog) Lookup(t Type, phase string) (PhaseDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs, ok := c.phases[t]
	if !ok {
		return PhaseDef{}, run.ErrUnknownWorkflow.WithMessage("unknown workflow type %q", t)
	}
	for _, d := range defs {
		if d.Name == phase {
			return d.clone(), nil
		}
	}
	return PhaseDef{}, fmt.Errorf("workflow %s has no phase %q", t, phase)
}

// Records builds the initial phase records for a new run of t
func (c *Catalog) Records(t Type) ([]run.PhaseRecord, error) {
	defs, err := c.Phases(t)
	if err != nil {
		return nil, err
	}
	records := make([]run.PhaseRecord, len(defs))
	for i, d := range defs {
		records[i] = d.Record()
	}
	return records, nil
}

// WorkerKinds returns every worker kind referenced by the catalog, sorted
func (c *Catalog) WorkerKinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := make(map[string]bool)
	for _, defs := range c.phases {
		for _, d := range defs {
			for _, w := range d.Workers {
				set[w.Kind] = true
			}
		}
	}
	kinds := make([]string, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
