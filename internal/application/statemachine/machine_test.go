package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deerun/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deerun/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deerun/internal/infra/repository/runstore"
)

type harness struct {
	fs      afero.Fs
	store   *runstore.MemoryRunStore
	journal *file.JournalRepository
	machine *Machine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	h := &harness{
		fs:      fs,
		store:   runstore.NewMemoryRunStore(),
		journal: file.NewJournalRepository(fs, "/work"),
	}
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	h.machine = New(h.store, storage.NewFSStore(fs, "/work"), workflow.NewCatalog(),
		WithJournal(h.journal),
		WithLogger(app.NopLogger{}),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	return h
}

func (h *harness) create(t *testing.T, typ workflow.Type, name string) *run.WorkflowRun {
	t.Helper()
	r, err := h.machine.CreateRun(context.Background(), typ, name, "please do it")
	require.NoError(t, err)
	return r
}

// runCurrent starts and completes the current phase
func (h *harness) runCurrent(t *testing.T, r *run.WorkflowRun) {
	t.Helper()
	ctx := context.Background()
	p, err := h.machine.StartPhase(ctx, r)
	require.NoError(t, err)
	require.Equal(t, run.PhaseRunning, p.Status)
	require.NoError(t, h.machine.CompletePhase(ctx, r, ".reports/"+p.Name+".md", nil))
}

func TestCreateRun(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, workflow.TypeHotfix, "Fix Crash")

	assert.Equal(t, "fix-crash", r.Slug)
	assert.Equal(t, run.StatusPending, r.Status)
	assert.Equal(t, ".specs/fix-crash.md", r.SpecRef)
	assert.Len(t, r.Phases, 4)
	assert.Equal(t, 1, r.Revision)

	spec, err := afero.ReadFile(h.fs, "/work/.specs/fix-crash.md")
	require.NoError(t, err)
	assert.Contains(t, string(spec), "please do it")

	stored, err := h.store.Load(context.Background(), "fix-crash")
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
}

func TestCreateRun_Duplicate(t *testing.T) {
	h := newHarness(t)
	h.create(t, workflow.TypeFeature, "add-login")

	_, err := h.machine.CreateRun(context.Background(), workflow.TypeBugfix, "Add Login", "")
	assert.True(t, errors.Is(err, run.ErrDuplicateRun))
}

func TestCreateRun_ArchivesTerminalPredecessor(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, workflow.TypeFeature, "add-login")
	_, err := h.machine.Abort(context.Background(), "add-login")
	require.NoError(t, err)

	second := h.create(t, workflow.TypeFeature, "add-login")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, ".specs/add-login-2.md", second.SpecRef, "spec artifacts are write-once")

	archived, ok := h.store.Archived(first.ID)
	require.True(t, ok)
	assert.Equal(t, run.StatusAborted, archived.Status)
}

func TestCreateRun_UnknownWorkflow(t *testing.T) {
	h := newHarness(t)
	_, err := h.machine.CreateRun(context.Background(), "deploy", "x", "")
	assert.True(t, errors.Is(err, run.ErrUnknownWorkflow))
}

func TestLinearRunToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")

	h.runCurrent(t, r)
	next, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "report", next.Name)

	h.runCurrent(t, r)
	next, err = h.machine.Advance(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, 2, r.CurrentPhaseIndex)

	stored, err := h.store.Load(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, stored.Status)

	records, err := h.journal.Load(ctx, "survey")
	require.NoError(t, err)
	var events []string
	for _, rec := range records {
		events = append(events, rec.Event)
	}
	assert.Equal(t, []string{"create", "start", "complete", "advance", "start", "complete", "finish"}, events)
}

func TestAdvance_RequiresDonePhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")

	_, err := h.machine.Advance(ctx, r)
	assert.True(t, errors.Is(err, run.ErrPhaseNotComplete))

	_, err = h.machine.StartPhase(ctx, r)
	require.NoError(t, err)
	_, err = h.machine.Advance(ctx, r)
	assert.True(t, errors.Is(err, run.ErrPhaseNotComplete))
}

func TestCheckpoint_SkipTests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeHotfix, "fix-crash")

	h.runCurrent(t, r) // scout
	_, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	h.runCurrent(t, r) // fix

	def, err := h.machine.Definition(r, "fix")
	require.NoError(t, err)
	require.NoError(t, h.machine.Suspend(ctx, r, def.Checkpoint.Pending("fix")))
	assert.Equal(t, run.StatusAwaitingConfirmation, r.Status)

	_, err = h.machine.Advance(ctx, r)
	assert.True(t, errors.Is(err, run.ErrPhaseNotComplete), "advance is refused while a checkpoint is pending")

	require.NoError(t, h.machine.RecordDecision(ctx, r, run.CheckpointDecision{Option: workflow.OptionSkipTests}))
	assert.Nil(t, r.Pending)
	assert.Equal(t, "hotfix-approval", r.Decisions[0].Checkpoint)

	next, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "commit", next.Name)
	assert.Equal(t, run.PhaseSkipped, r.Phase("test").Status)
	assert.Empty(t, r.Phase("test").OutputArtifactRef)
}

func TestCheckpoint_RunTestsKeepsPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeHotfix, "fix-crash")
	h.runCurrent(t, r)
	_, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	h.runCurrent(t, r)

	def, _ := h.machine.Definition(r, "fix")
	require.NoError(t, h.machine.Suspend(ctx, r, def.Checkpoint.Pending("fix")))
	require.NoError(t, h.machine.RecordDecision(ctx, r, run.CheckpointDecision{Option: workflow.OptionRunTests}))

	next, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "test", next.Name)
}

func TestRecordDecision_InvalidOption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeDocs, "guide")
	h.runCurrent(t, r)
	_, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	h.runCurrent(t, r)
	def, _ := h.machine.Definition(r, "write")
	require.NoError(t, h.machine.Suspend(ctx, r, def.Checkpoint.Pending("write")))

	err = h.machine.RecordDecision(ctx, r, run.CheckpointDecision{Option: "maybe"})
	assert.True(t, errors.Is(err, run.ErrInvalidDecision))

	stored, err := h.store.Load(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, run.StatusAwaitingConfirmation, stored.Status)
	assert.NotNil(t, stored.Pending)
}

func TestRecordDecision_NoPending(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, workflow.TypeDocs, "guide")
	err := h.machine.RecordDecision(context.Background(), r, run.CheckpointDecision{Option: "approve"})
	assert.True(t, errors.Is(err, run.ErrNoPendingCheckpoint))
}

func TestRecordDecision_ReviseResetsPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeDocs, "guide")
	h.runCurrent(t, r)
	_, err := h.machine.Advance(ctx, r)
	require.NoError(t, err)
	h.runCurrent(t, r)
	def, _ := h.machine.Definition(r, "write")
	require.NoError(t, h.machine.Suspend(ctx, r, def.Checkpoint.Pending("write")))

	require.NoError(t, h.machine.RecordDecision(ctx, r, run.CheckpointDecision{Option: workflow.OptionRevise, Note: "too long"}))
	p := r.Phase("write")
	assert.Equal(t, run.PhaseNotStarted, p.Status)
	assert.Empty(t, p.OutputArtifactRef)
	assert.Equal(t, 1, r.CurrentPhaseIndex)
	assert.Equal(t, "too long", r.Decisions[0].Note)
}

func TestFailPhase_BlocksWithRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")
	_, err := h.machine.StartPhase(ctx, r)
	require.NoError(t, err)

	require.NoError(t, h.machine.FailPhase(ctx, r, []string{"researcher[external]: timeout"}, nil))
	assert.Equal(t, run.StatusBlocked, r.Status)
	assert.Equal(t, run.PhaseFailed, r.Phases[0].Status)
	require.NotNil(t, r.Pending)
	assert.Equal(t, []string{"retry", "abort"}, r.Pending.Values())
	assert.Contains(t, r.Pending.Reason, "timeout")

	require.NoError(t, h.machine.RecordDecision(ctx, r, run.CheckpointDecision{Option: "retry"}))
	assert.Equal(t, run.PhaseNotStarted, r.Phases[0].Status)
	assert.Equal(t, run.StatusRunning, r.Status)

	p, err := h.machine.StartPhase(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, run.PhaseRunning, p.Status)
}

func TestCompletePhase_DiscardedAfterAbort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")
	_, err := h.machine.StartPhase(ctx, r)
	require.NoError(t, err)

	_, err = h.machine.Abort(ctx, "survey")
	require.NoError(t, err)

	err = h.machine.CompletePhase(ctx, r, ".reports/x.md", nil)
	assert.True(t, errors.Is(err, run.ErrRunAlreadyTerminal))

	stored, err := h.store.Load(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, run.PhaseRunning, stored.Phases[0].Status)
	assert.Empty(t, stored.Phases[0].OutputArtifactRef)
}

func TestMutate_StaleRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")
	stale := r.Clone()

	_, err := h.machine.StartPhase(ctx, r)
	require.NoError(t, err)

	_, err = h.machine.StartPhase(ctx, stale)
	assert.True(t, errors.Is(err, run.ErrConcurrentUpdate))
}

func TestResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.create(t, workflow.TypeResearch, "survey")
	h.runCurrent(t, r)

	loaded, next, err := h.machine.Resume(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)
	require.NotNil(t, next)
	assert.Equal(t, "report", next.Name)

	_, err = h.machine.Advance(ctx, r)
	require.NoError(t, err)
	h.runCurrent(t, r)

	_, next, err = h.machine.Resume(ctx, "survey")
	require.NoError(t, err)
	assert.Nil(t, next, "every phase is done, only completion is outstanding")

	_, err = h.machine.Advance(ctx, r)
	require.NoError(t, err)
	_, _, err = h.machine.Resume(ctx, "survey")
	assert.True(t, errors.Is(err, run.ErrRunAlreadyTerminal))
}

func TestResume_NotFound(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.machine.Resume(context.Background(), "nothing")
	assert.True(t, errors.Is(err, run.ErrRunNotFound))
}

func TestAbort_Terminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, workflow.TypeResearch, "survey")

	r, err := h.machine.Abort(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, run.StatusAborted, r.Status)

	_, err = h.machine.Abort(ctx, "survey")
	assert.True(t, errors.Is(err, run.ErrRunAlreadyTerminal))
}
