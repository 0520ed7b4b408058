package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/app/config"
	"github.com/YoshitsuguKoike/deerun/internal/application/port/output"
	"github.com/YoshitsuguKoike/deerun/internal/interface/external/claudecli"
)

// Supported worker backends
const (
	BackendClaude = "claude"
	BackendEcho   = "echo"
)

// Backends lists the supported worker backends
func Backends() []string {
	return []string{BackendClaude, BackendEcho}
}

// Registry maps worker kinds to workers
type Registry struct {
	workers map[string]output.Worker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]output.Worker)}
}

// Register binds kind to w
func (r *Registry) Register(kind string, w output.Worker) {
	r.workers[kind] = w
}

// Lookup returns the worker for kind
func (r *Registry) Lookup(kind string) (output.Worker, bool) {
	w, ok := r.workers[kind]
	return w, ok
}

// Kinds returns the registered kinds sorted
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.workers))
	for k := range r.workers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewWorkerRegistry binds every kind to the configured backend
func NewWorkerRegistry(cfg config.Config, fs afero.Fs, agents AgentLookup, kinds []string) (*Registry, error) {
	var w output.Worker
	switch strings.ToLower(cfg.WorkerBackend()) {
	case BackendClaude:
		runner := claudecli.Runner{Bin: cfg.AgentBin(), Timeout: cfg.Timeout(), WorkDir: cfg.Root()}
		w = NewClaudeCLIWorker(runner, agents, fs, "")
	case BackendEcho:
		w = EchoWorker{}
	default:
		return nil, fmt.Errorf("unknown worker backend: %s (supported: %s)", cfg.WorkerBackend(), strings.Join(Backends(), ", "))
	}

	reg := NewRegistry()
	for _, k := range kinds {
		reg.Register(k, w)
	}
	return reg, nil
}
