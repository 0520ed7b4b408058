package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deerun/internal/application/dispatcher"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

const echoSettings = `{"root": "/work", "worker_backend": "echo"}`

func newTestFs(t *testing.T, settings string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if settings != "" {
		require.NoError(t, afero.WriteFile(fs, "/h/setting.json", []byte(settings), 0o644))
	}
	return fs
}

func execute(t *testing.T, fs afero.Fs, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRoot(fs)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--home", "/h"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func loadRun(t *testing.T, fs afero.Fs, slug string) *run.WorkflowRun {
	t.Helper()
	data, err := afero.ReadFile(fs, "/work/.state/"+slug+".json")
	require.NoError(t, err)
	var r run.WorkflowRun
	require.NoError(t, json.Unmarshal(data, &r))
	return &r
}

func countFiles(t *testing.T, fs afero.Fs, dir string) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func TestRun_ResearchCompletes(t *testing.T) {
	fs := newTestFs(t, echoSettings)

	out, _, err := execute(t, fs, "run", "research", "compare-caches", "compare", "caching", "libraries")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   completed")

	r := loadRun(t, fs, "compare-caches")
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, "compare caching libraries", r.Prompt)
	assert.Equal(t, 1, countFiles(t, fs, "/work/.specs"))
	// three sections and their consolidated report, then the adopted summary
	assert.Equal(t, 5, countFiles(t, fs, "/work/.reports"))
}

func TestRun_FeatureCheckpointsAcrossInvocations(t *testing.T) {
	fs := newTestFs(t, `{"root": "/work"}`)

	out, _, err := execute(t, fs, "run", "--worker", "echo", "feature", "add-login", "Add OAuth login")
	require.NoError(t, err, "awaiting confirmation exits 0")
	assert.Contains(t, out, "Checkpoint plan-approval after plan")
	assert.Contains(t, out, "deerun run decide add-login <option>")
	assert.Equal(t, 1, countFiles(t, fs, "/work/.plans"))

	r := loadRun(t, fs, "add-login")
	require.Equal(t, run.StatusAwaitingConfirmation, r.Status)
	require.NotNil(t, r.Pending)
	assert.Equal(t, "plan-approval", r.Pending.Name)

	_, _, err = execute(t, fs, "run", "--worker", "echo", "decide", "add-login", "approve", "--note", "ship it")
	require.NoError(t, err)
	r = loadRun(t, fs, "add-login")
	require.NotNil(t, r.Pending)
	assert.Equal(t, "implement-review", r.Pending.Name)
	assert.Equal(t, "ship it", r.DecisionFor("plan").Note)

	_, _, err = execute(t, fs, "run", "--worker", "echo", "decide", "add-login", "skip-tests")
	require.NoError(t, err)
	r = loadRun(t, fs, "add-login")
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, run.PhaseSkipped, r.Phase("test").Status)
}

func TestRun_StatusJSON(t *testing.T) {
	fs := newTestFs(t, echoSettings)
	_, _, err := execute(t, fs, "run", "docs", "api-guide", "document", "the", "API")
	require.NoError(t, err)

	out, _, err := execute(t, fs, "run", "status", "api-guide", "--json")
	require.NoError(t, err)

	var r run.WorkflowRun
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "api-guide", r.Slug)
	assert.Equal(t, run.StatusAwaitingConfirmation, r.Status)
	assert.Equal(t, "draft-approval", r.Pending.Name)
}

func TestRun_ExitCodes(t *testing.T) {
	fs := newTestFs(t, echoSettings)
	_, _, err := execute(t, fs, "run", "docs", "api-guide", "document", "the", "API")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		code int
		want error
	}{
		{"duplicate run", []string{"run", "docs", "api-guide"}, 3, run.ErrDuplicateRun},
		{"status of missing run", []string{"run", "status", "missing"}, 2, run.ErrRunNotFound},
		{"unroutable request", []string{"run", "zzz", "qqq"}, 2, run.ErrUnknownWorkflow},
		{"option not offered", []string{"run", "decide", "api-guide", "skip-tests"}, 1, run.ErrInvalidDecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, fs, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.code, run.ExitCode(err))
		})
	}
}

func TestRun_AbortThenList(t *testing.T) {
	fs := newTestFs(t, echoSettings)
	_, _, err := execute(t, fs, "run", "feature", "add-login")
	require.NoError(t, err)
	_, _, err = execute(t, fs, "run", "bugfix", "login-crash", "fix", "the", "crash")
	require.NoError(t, err)

	out, _, err := execute(t, fs, "run", "abort", "add-login")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   aborted")

	out, _, err = execute(t, fs, "list", "--json")
	require.NoError(t, err)
	var entries []ListEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "add-login", entries[0].Slug)
	assert.Equal(t, "aborted", entries[0].Status)
	assert.Equal(t, "login-crash", entries[1].Slug)
	assert.Equal(t, "root-cause", entries[1].Pending)

	_, _, err = execute(t, fs, "run", "resume", "add-login")
	assert.True(t, errors.Is(err, run.ErrRunAlreadyTerminal), "got %v", err)
}

func TestList_Empty(t *testing.T) {
	out, _, err := execute(t, newTestFs(t, echoSettings), "list")
	require.NoError(t, err)
	assert.Equal(t, "No runs\n", out)
}

func TestDoctor_JSON(t *testing.T) {
	fs := newTestFs(t, `{"root": "/work", "worker_backend": "echo", "workflow": {"max_instances": {"researcher": 2, "ghost": 1}}}`)
	require.NoError(t, afero.WriteFile(fs, "/work/.claude/agents/planner.md",
		[]byte("---\nname: planner\ndescription: Writes implementation plans\n---\nbody\n"), 0o644))

	out, _, err := execute(t, fs, "doctor", "--json")
	require.NoError(t, err)

	var report DoctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "json", report.ConfigSource)
	assert.Equal(t, "/work", report.Root)
	assert.Equal(t, 6, report.Workflows["feature"])
	assert.Equal(t, 2, report.Workflows["research"])
	assert.Equal(t, []string{"planner"}, report.Agents)
	assert.Empty(t, report.Errors)
	assert.Contains(t, report.Warnings, `max_instances: unknown worker kind "ghost"`)
	assert.Equal(t, dispatcher.KindStats{Kind: "researcher", Current: 0, Max: 2}, report.MaxInstances["researcher"])
}

func TestDoctor_BadSettings(t *testing.T) {
	fs := newTestFs(t, `{"worker_backend": "gpt"}`)

	out, errOut, err := execute(t, fs, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "ERROR: settings:")
	assert.Contains(t, errOut, "using default settings")
}

func TestInit_CreatesLayout(t *testing.T) {
	fs := newTestFs(t, "")

	out, _, err := execute(t, fs, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "/h/setting.json")

	for _, dir := range []string{".specs", ".reports", ".plans", ".state"} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, "expected %s", dir)
	}
	data, err := afero.ReadFile(fs, "/h/setting.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"worker_backend": "claude"`)

	out, _, err = execute(t, fs, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "(kept)")
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{" INFO ", LogLevelInfo},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"", LogLevelWarn},
		{"loud", LogLevelWarn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LogLevelFromString(tt.in), tt.in)
	}
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogLevelWarn, &buf)
	l.Info("hidden")
	l.Warn("shown %d", 1)
	l.SetLevel(LogLevelDebug)
	l.Debug("now visible")

	assert.Equal(t, "WARN: shown 1\nDEBUG: now visible\n", buf.String())
}

func TestDoctor_ValidatesJournals(t *testing.T) {
	fs := newTestFs(t, echoSettings)
	_, _, err := execute(t, fs, "run", "research", "compare-caches")
	require.NoError(t, err)

	out, _, err := execute(t, fs, "doctor", "--json")
	require.NoError(t, err)
	var report DoctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	sum, ok := report.Journals["compare-caches"]
	require.True(t, ok)
	assert.Positive(t, sum.Lines)
	assert.Equal(t, sum.Lines, sum.OK)
	assert.Equal(t, 1, report.Artifacts[".specs"])

	require.NoError(t, afero.WriteFile(fs, "/work/.state/compare-caches.journal.ndjson", []byte("not json\n"), 0o644))
	_, _, err = execute(t, fs, "doctor")
	assert.Error(t, err)
}
