package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// ReleaseFunc releases a lock obtained from RunStore.Lock
type ReleaseFunc func() error

// RunLookup is the read-only view used by routing
type RunLookup interface {
	// Exists reports whether a run with this name has persisted state
	Exists(ctx context.Context, name string) (bool, error)
}

// RunStore manages persistence of workflow runs under the state category
type RunStore interface {
	RunLookup

	// Load retrieves the run for name, or ErrRunNotFound
	Load(ctx context.Context, name string) (*run.WorkflowRun, error)

	// Save persists the run
	// Returns ErrConcurrentUpdate if the stored revision moved on (optimistic locking)
	Save(ctx context.Context, r *run.WorkflowRun) error

	// List returns every persisted run sorted by slug
	List(ctx context.Context) ([]*run.WorkflowRun, error)

	// Archive moves a run out of the active slot, keeping its record
	Archive(ctx context.Context, r *run.WorkflowRun) error

	// Lock takes the per-slug writer lock, retrying until ctx is done
	Lock(ctx context.Context, name string) (ReleaseFunc, error)
}
