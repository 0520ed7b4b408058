package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/application/port/output"
	"github.com/YoshitsuguKoike/deerun/internal/interface/external/claudecli"
)

// Runner is the subset of claudecli.Runner the worker needs
type Runner interface {
	RunWithOptions(ctx context.Context, prompt string, opts *claudecli.RunOptions, extraArgs ...string) (string, error)
}

// AgentLookup reports whether a named subagent is installed
type AgentLookup interface {
	HasAgent(name string) bool
}

// ClaudeCLIWorker runs a task through the claude CLI.
// The agent is asked to write its output to a draft file; if it does not,
// the printed result is used instead.
type ClaudeCLIWorker struct {
	runner   Runner
	agents   AgentLookup
	fs       afero.Fs
	draftDir string
}

// NewClaudeCLIWorker creates a worker; agents may be nil
func NewClaudeCLIWorker(runner Runner, agents AgentLookup, fs afero.Fs, draftDir string) *ClaudeCLIWorker {
	if draftDir == "" {
		draftDir = filepath.Join(os.TempDir(), "deerun-drafts")
	}
	return &ClaudeCLIWorker{runner: runner, agents: agents, fs: fs, draftDir: draftDir}
}

// Run executes the task and persists its result as a new artifact
func (w *ClaudeCLIWorker) Run(ctx context.Context, task output.Task) (string, error) {
	if err := w.fs.MkdirAll(w.draftDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create draft directory: %w", err)
	}
	draft := filepath.Join(w.draftDir, task.Invocation.ID+".md")
	defer w.fs.Remove(draft)

	opts := &claudecli.RunOptions{}
	if w.agents != nil && w.agents.HasAgent(task.Invocation.WorkerKind) {
		opts.Agent = task.Invocation.WorkerKind
	}

	result, err := w.runner.RunWithOptions(ctx, instruct(task, draft), opts)
	if err != nil {
		return "", fmt.Errorf("claude worker %s: %w", task.Invocation.WorkerKind, err)
	}

	content, err := afero.ReadFile(w.fs, draft)
	if err != nil || len(strings.TrimSpace(string(content))) == 0 {
		content = []byte(result)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return "", fmt.Errorf("claude worker %s produced no output", task.Invocation.WorkerKind)
	}

	art, err := task.Artifacts.Write(ctx, task.WriteRequest(content))
	if err != nil {
		return "", err
	}
	return art.Locator, nil
}

func instruct(task output.Task, draft string) string {
	var b strings.Builder
	b.WriteString(task.Invocation.InputPrompt)
	if task.Invocation.AssignedSection != "" {
		fmt.Fprintf(&b, "\n\nProduce only the %q section.", task.Invocation.AssignedSection)
	}
	fmt.Fprintf(&b, "\n\nIMPORTANT: Write your complete output to the file: %s\n", draft)
	b.WriteString("Use the Write tool to create this file. Do not write anywhere else.\n")
	return b.String()
}
