package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/deerun/internal/application/port/output"
)

// EchoWorker is a deterministic worker that records its prompt as the artifact
type EchoWorker struct{}

// Run writes the prompt of task as its artifact
func (EchoWorker) Run(ctx context.Context, task output.Task) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", task.Phase, task.Invocation.WorkerKind)
	if task.Invocation.AssignedSection != "" {
		fmt.Fprintf(&b, "- section: %s\n", task.Invocation.AssignedSection)
	}
	fmt.Fprintf(&b, "- run: %s\n\n", task.RunID)
	b.WriteString(task.Invocation.InputPrompt)
	b.WriteString("\n")

	art, err := task.Artifacts.Write(ctx, task.WriteRequest([]byte(b.String())))
	if err != nil {
		return "", err
	}
	return art.Locator, nil
}
