package output

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// Task is one unit of work handed to a Worker
type Task struct {
	RunID        string
	Slug         string
	WorkflowType string
	Phase        string
	Invocation   run.WorkerInvocation
	Artifacts    repository.ArtifactWriter // where the worker persists its result
	Timestamp    time.Time

	// Direct is set for a single unsectioned worker whose phase output lands in
	// the plans category; its artifact is adopted as the phase output as is.
	Direct bool
}

// ArtifactKind is the report kind a worker artifact is named with
func (t Task) ArtifactKind() string {
	if t.Invocation.AssignedSection != "" {
		return t.Phase + "-" + t.Invocation.AssignedSection
	}
	return t.Phase + "-" + t.Invocation.WorkerKind
}

// WriteRequest builds the artifact request for the worker's own result
func (t Task) WriteRequest(content []byte) repository.WriteRequest {
	if t.Direct {
		return repository.WriteRequest{
			Category:  repository.CategoryPlans,
			Slug:      t.Slug,
			Kind:      t.WorkflowType,
			Content:   content,
			Timestamp: t.Timestamp,
		}
	}
	return repository.WriteRequest{
		Category:  repository.CategoryReports,
		Slug:      t.Slug,
		Kind:      t.ArtifactKind(),
		Content:   content,
		Timestamp: t.Timestamp,
	}
}

// Worker executes one task in isolation and returns a locator to its artifact.
// It must never return artifact content.
type Worker interface {
	Run(ctx context.Context, task Task) (locator string, err error)
}

// WorkerFunc adapts a function to Worker
type WorkerFunc func(ctx context.Context, task Task) (string, error)

// Run calls f
func (f WorkerFunc) Run(ctx context.Context, task Task) (string, error) {
	return f(ctx, task)
}

// WorkerRegistry resolves worker kinds to implementations
type WorkerRegistry interface {
	Lookup(kind string) (Worker, bool)
	Kinds() []string
}
