package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

var created = time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)

func newRun(slug string) *run.WorkflowRun {
	return &run.WorkflowRun{
		ID:           run.NewRunID(slug, created),
		Name:         slug,
		Slug:         slug,
		WorkflowType: "research",
		Phases: []run.PhaseRecord{
			{Name: "research", Status: run.PhaseNotStarted, Workers: []run.WorkerInvocation{}},
			{Name: "report", Status: run.PhaseNotStarted, Workers: []run.WorkerInvocation{}},
		},
		Status:    run.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

type storeFactory struct {
	name string
	make func() repository.RunStore
}

func factories() []storeFactory {
	return []storeFactory{
		{"file", func() repository.RunStore { return NewFileRunStore(afero.NewMemMapFs(), "/work") }},
		{"memory", func() repository.RunStore { return NewMemoryRunStore() }},
	}
}

func TestRunStore_SaveLoadRoundTrip(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			ctx := context.Background()
			r := newRun("add-login")
			r.Decisions = []run.CheckpointDecision{{Checkpoint: "gate", Phase: "research", Option: "approve", DecidedAt: created}}

			require.NoError(t, store.Save(ctx, r))
			assert.Equal(t, 1, r.Revision)

			loaded, err := store.Load(ctx, "add-login")
			require.NoError(t, err)
			assert.Equal(t, r.ID, loaded.ID)
			assert.Equal(t, r.Phases, loaded.Phases)
			assert.Equal(t, r.Decisions[0].Option, loaded.Decisions[0].Option)
			assert.True(t, r.Decisions[0].DecidedAt.Equal(loaded.Decisions[0].DecidedAt))
			assert.Equal(t, 1, loaded.Revision)
		})
	}
}

func TestRunStore_RevisionConflict(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			ctx := context.Background()
			r := newRun("x")
			require.NoError(t, store.Save(ctx, r))

			stale, err := store.Load(ctx, "x")
			require.NoError(t, err)

			r.Status = run.StatusRunning
			require.NoError(t, store.Save(ctx, r))

			stale.Status = run.StatusAborted
			err = store.Save(ctx, stale)
			assert.True(t, errors.Is(err, run.ErrConcurrentUpdate), "got %v", err)

			loaded, _ := store.Load(ctx, "x")
			assert.Equal(t, run.StatusRunning, loaded.Status)
		})
	}
}

func TestRunStore_NotFound(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			_, err := store.Load(context.Background(), "missing")
			assert.True(t, errors.Is(err, run.ErrRunNotFound))

			ok, err := store.Exists(context.Background(), "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRunStore_RejectsInvalidRun(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			r := newRun("bad")
			r.CurrentPhaseIndex = 5
			assert.Error(t, f.make().Save(context.Background(), r))
		})
	}
}

func TestRunStore_ListSorted(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			ctx := context.Background()
			for _, slug := range []string{"b", "c", "a"} {
				require.NoError(t, store.Save(ctx, newRun(slug)))
			}
			runs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{runs[0].Slug, runs[1].Slug, runs[2].Slug})
		})
	}
}

func TestRunStore_Archive(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			ctx := context.Background()
			r := newRun("done")
			require.NoError(t, store.Save(ctx, r))

			require.NoError(t, store.Archive(ctx, r))
			ok, _ := store.Exists(ctx, "done")
			assert.False(t, ok)

			fresh := newRun("done")
			require.NoError(t, store.Save(ctx, fresh), "slug must be reusable after archive")
		})
	}
}

func TestRunStore_LockExclusive(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.make()
			release, err := store.Lock(context.Background(), "x")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = store.Lock(ctx, "x")
			assert.True(t, errors.Is(err, run.ErrConcurrentUpdate))

			other, err := store.Lock(context.Background(), "y")
			require.NoError(t, err, "locks are per slug")
			require.NoError(t, other())

			require.NoError(t, release())
			again, err := store.Lock(context.Background(), "x")
			require.NoError(t, err)
			require.NoError(t, again())
		})
	}
}

func TestFileRunStore_Layout(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileRunStore(fs, "/work")
	ctx := context.Background()
	r := newRun("add-login")
	require.NoError(t, store.Save(ctx, r))

	data, err := afero.ReadFile(fs, "/work/.state/add-login.json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"), "state file ends with a newline")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pending", decoded["status"])
	assert.Equal(t, "add-login", decoded["slug"])

	require.NoError(t, afero.WriteFile(fs, "/work/.state/add-login.journal.ndjson", []byte("{}\n"), 0o644))
	require.NoError(t, store.Archive(ctx, r))

	archived, err := afero.Exists(fs, "/work/.state/archive/"+r.ID+".json")
	require.NoError(t, err)
	assert.True(t, archived)
	journal, _ := afero.Exists(fs, "/work/.state/archive/"+r.ID+".journal.ndjson")
	assert.True(t, journal)
}

func TestFileRunStore_ListSkipsCorruptState(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileRunStore(fs, ".")
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newRun("good")))
	require.NoError(t, afero.WriteFile(fs, ".state/broken.json", []byte("{not json"), 0o644))

	runs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "good", runs[0].Slug)

	_, err = store.Load(ctx, "broken")
	assert.Error(t, err)
}

func TestFileRunStore_LoadBySlugifiedName(t *testing.T) {
	store := NewFileRunStore(afero.NewMemMapFs(), ".")
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newRun("add-login")))

	loaded, err := store.Load(ctx, "Add Login")
	require.NoError(t, err)
	assert.Equal(t, "add-login", loaded.Slug)
}
