package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// MemoryRunStore keeps runs in memory; every Save and Load copies
type MemoryRunStore struct {
	mu       sync.Mutex
	runs     map[string]*run.WorkflowRun
	archived map[string]*run.WorkflowRun
	locks    map[string]chan struct{}
	now      func() time.Time
}

// NewMemoryRunStore creates an empty in-memory store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:     make(map[string]*run.WorkflowRun),
		archived: make(map[string]*run.WorkflowRun),
		locks:    make(map[string]chan struct{}),
		now:      time.Now,
	}
}

// Load retrieves the run for name
func (s *MemoryRunStore) Load(ctx context.Context, name string) (*run.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[specpath.Slugify(name)]
	if !ok {
		return nil, run.ErrRunNotFound.WithMessage("no run named %q", name)
	}
	return r.Clone(), nil
}

// Exists reports whether a run named name is stored
func (s *MemoryRunStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[specpath.Slugify(name)]
	return ok, nil
}

// Save stores a copy of r using the same revision rules as FileRunStore
func (s *MemoryRunStore) Save(ctx context.Context, r *run.WorkflowRun) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.runs[r.Slug]; ok {
		if stored.ID != r.ID || stored.Revision != r.Revision {
			return run.ErrConcurrentUpdate.WithMessage("run %s is at revision %d, caller holds %d", r.Slug, stored.Revision, r.Revision)
		}
	} else if r.Revision != 0 {
		return run.ErrConcurrentUpdate.WithMessage("run %s disappeared from state", r.Slug)
	}

	r.Revision++
	r.UpdatedAt = s.now().UTC()
	s.runs[r.Slug] = r.Clone()
	return nil
}

// List returns every stored run sorted by slug
func (s *MemoryRunStore) List(ctx context.Context) ([]*run.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*run.WorkflowRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Archive moves the run out of the active slot
func (s *MemoryRunStore) Archive(ctx context.Context, r *run.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[r.ID] = r.Clone()
	delete(s.runs, r.Slug)
	return nil
}

// Archived returns an archived run by ID (for testing)
func (s *MemoryRunStore) Archived(id string) (*run.WorkflowRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.archived[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Lock takes the per-slug lock, waiting until ctx is done
func (s *MemoryRunStore) Lock(ctx context.Context, name string) (repository.ReleaseFunc, error) {
	slug := specpath.Slugify(name)
	s.mu.Lock()
	ch, ok := s.locks[slug]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[slug] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() error {
			once.Do(func() { <-ch })
			return nil
		}, nil
	case <-ctx.Done():
		return nil, run.ErrConcurrentUpdate.WithMessage("run %s is locked by another writer", name).Wrap(ctx.Err())
	}
}
