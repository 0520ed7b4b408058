package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/YoshitsuguKoike/deerun/internal/adapter/gateway/agent"
	"github.com/YoshitsuguKoike/deerun/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/app/config"
	"github.com/YoshitsuguKoike/deerun/internal/application/checkpoint"
	"github.com/YoshitsuguKoike/deerun/internal/application/consolidator"
	"github.com/YoshitsuguKoike/deerun/internal/application/dispatcher"
	"github.com/YoshitsuguKoike/deerun/internal/application/orchestrator"
	"github.com/YoshitsuguKoike/deerun/internal/application/router"
	"github.com/YoshitsuguKoike/deerun/internal/application/statemachine"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deerun/internal/infra/agents"
	"github.com/YoshitsuguKoike/deerun/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deerun/internal/infra/repository/runstore"
)

// containerOptions carries per-command overrides
type containerOptions struct {
	worker      string
	interactive bool
	stdin       io.Reader
	stdout      io.Writer
}

// container holds the wired components of one invocation
type container struct {
	cfg       config.Config
	artifacts repository.ArtifactStore
	runs      repository.RunStore
	catalog   *workflow.Catalog
	agents    *agents.Catalog
	pool      *dispatcher.WorkerPool
	engine    *orchestrator.Engine
	router    *router.Router
}

func (s *session) container(ctx context.Context, opts containerOptions) (*container, error) {
	cfg := s.cfg
	if opts.worker != "" {
		cfg = cfg.WithWorkerBackend(opts.worker)
	}
	logger := app.GetLogger()

	artifacts, err := storage.NewArtifactStore(ctx, cfg, s.fs)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	runs := runstore.NewFileRunStore(s.fs, cfg.Root(), runstore.WithLockTTL(cfg.LockTTL()))
	journal := file.NewJournalRepository(s.fs, cfg.Root())

	agentCatalog, err := agents.Load(s.fs, filepath.Join(cfg.Root(), ".claude"))
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}
	for _, issue := range agentCatalog.Issues {
		logger.Warn("skipping %s: %s", issue.Path, issue.Message)
	}

	catalog := workflow.NewCatalog()
	registry, err := agent.NewWorkerRegistry(cfg, s.fs, agentCatalog, catalog.WorkerKinds())
	if err != nil {
		return nil, err
	}

	pool := dispatcher.NewWorkerPool(cfg.MaxInstancesMap())
	d := dispatcher.New(registry, artifacts,
		dispatcher.WithPool(pool),
		dispatcher.WithDocumentLanguage(cfg.DocumentLanguage()),
		dispatcher.WithLogger(logger),
	)
	machine := statemachine.New(runs, artifacts, catalog,
		statemachine.WithJournal(journal),
		statemachine.WithLogger(logger),
	)

	var prompter checkpoint.Prompter = checkpoint.DeferredPrompter{}
	if opts.interactive {
		prompter = checkpoint.SelectPrompter{
			Stdin:  io.NopCloser(opts.stdin),
			Stdout: nopWriteCloser{opts.stdout},
		}
	}

	return &container{
		cfg:       cfg,
		artifacts: artifacts,
		runs:      runs,
		catalog:   catalog,
		agents:    agentCatalog,
		pool:      pool,
		engine: orchestrator.New(machine, d, consolidator.New(artifacts), checkpoint.NewGate(prompter, machine), runs,
			orchestrator.WithLogger(logger),
		),
		router: router.New(runs),
	}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
