package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// FileRunStore persists runs as .state/{slug}.json under root
type FileRunStore struct {
	fs      afero.Fs
	root    string
	lockTTL time.Duration
	now     func() time.Time
}

// Option configures a FileRunStore
type Option func(*FileRunStore)

// WithLockTTL sets the age after which a lock is considered stale
func WithLockTTL(ttl time.Duration) Option {
	return func(s *FileRunStore) { s.lockTTL = ttl }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *FileRunStore) { s.now = now }
}

// NewFileRunStore creates a file-backed run store
func NewFileRunStore(fs afero.Fs, root string, opts ...Option) *FileRunStore {
	if root == "" {
		root = "."
	}
	s := &FileRunStore{fs: fs, root: root, lockTTL: 10 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load retrieves the run for name
func (s *FileRunStore) Load(ctx context.Context, name string) (*run.WorkflowRun, error) {
	slug := specpath.Slugify(name)
	r, err := s.readFile(s.abs(specpath.StatePath(slug)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, run.ErrRunNotFound.WithMessage("no run named %q", name).WithDetail("slug", slug)
		}
		return nil, err
	}
	return r, nil
}

// Exists reports whether a run named name has persisted state
func (s *FileRunStore) Exists(ctx context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, s.abs(specpath.StatePath(specpath.Slugify(name))))
}

// Save validates and persists the run with write-then-rename.
// The stored revision must equal r.Revision; on success r.Revision is incremented.
func (s *FileRunStore) Save(ctx context.Context, r *run.WorkflowRun) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid run: %w", err)
	}
	target := s.abs(specpath.StatePath(r.Slug))

	stored, err := s.readFile(target)
	switch {
	case err == nil:
		if stored.ID != r.ID || stored.Revision != r.Revision {
			return run.ErrConcurrentUpdate.
				WithMessage("run %s is at revision %d, caller holds %d", r.Slug, stored.Revision, r.Revision).
				WithDetail("slug", r.Slug)
		}
	case os.IsNotExist(err):
		if r.Revision != 0 {
			return run.ErrConcurrentUpdate.WithMessage("run %s disappeared from state", r.Slug).WithDetail("slug", r.Slug)
		}
	default:
		return err
	}

	next := r.Clone()
	next.Revision++
	next.UpdatedAt = s.now().UTC()

	data, err := marshal(next)
	if err != nil {
		return err
	}
	if err := file.WriteFileAtomic(s.fs, target, data); err != nil {
		return run.ErrPersistence.WithMessage("failed to save run %s", r.Slug).Wrap(err)
	}

	r.Revision = next.Revision
	r.UpdatedAt = next.UpdatedAt
	return nil
}

// List returns every active run sorted by slug. Unreadable state files are skipped.
func (s *FileRunStore) List(ctx context.Context) ([]*run.WorkflowRun, error) {
	dir := s.abs(specpath.StateDir)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*run.WorkflowRun{}, nil
		}
		return nil, fmt.Errorf("failed to list state: %w", err)
	}

	runs := make([]*run.WorkflowRun, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		r, err := s.readFile(filepath.Join(dir, name))
		if err != nil {
			app.GetLogger().Warn("skipping unreadable state file %s: %v", name, err)
			continue
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Slug < runs[j].Slug })
	return runs, nil
}

// Archive moves the run to .state/archive/{id}.json, freeing the slug
func (s *FileRunStore) Archive(ctx context.Context, r *run.WorkflowRun) error {
	data, err := marshal(r)
	if err != nil {
		return err
	}
	if err := file.WriteFileAtomic(s.fs, s.abs(specpath.ArchivePath(r.ID)), data); err != nil {
		return run.ErrPersistence.WithMessage("failed to archive run %s", r.ID).Wrap(err)
	}
	if err := s.fs.Remove(s.abs(specpath.StatePath(r.Slug))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archived state %s: %w", r.Slug, err)
	}

	journal := s.abs(specpath.JournalPath(r.Slug))
	if ok, _ := afero.Exists(s.fs, journal); ok {
		dest := s.abs(path.Join(specpath.ArchiveDir, r.ID+".journal.ndjson"))
		if err := s.fs.Rename(journal, dest); err != nil {
			app.GetLogger().Warn("failed to archive journal of %s: %v", r.ID, err)
		}
	}
	return nil
}

// Lock takes the O_EXCL lock file .state/{slug}.lock
func (s *FileRunStore) Lock(ctx context.Context, name string) (repository.ReleaseFunc, error) {
	lockPath := s.abs(specpath.LockPath(specpath.Slugify(name)))
	release, err := file.AcquireLock(ctx, s.fs, lockPath, file.LockOptions{TTL: s.lockTTL, Now: s.now})
	if err != nil {
		return nil, run.ErrConcurrentUpdate.WithMessage("run %s is locked by another writer", name).Wrap(err)
	}
	return repository.ReleaseFunc(release), nil
}

func (s *FileRunStore) readFile(p string) (*run.WorkflowRun, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, err
	}
	var r run.WorkflowRun
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt state %s: %w", p, err)
	}
	return &r, nil
}

func (s *FileRunStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func marshal(r *run.WorkflowRun) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	return append(data, '\n'), nil
}
