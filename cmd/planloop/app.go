package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rahul/planloop/internal/agent"
	"github.com/rahul/planloop/internal/browser"
	"github.com/rahul/planloop/internal/executor"
	"github.com/rahul/planloop/internal/gateway"
	"github.com/rahul/planloop/internal/governance"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/rag"
	"github.com/rahul/planloop/internal/store"
	"github.com/rahul/planloop/internal/tools"
	"github.com/rahul/planloop/pkg/config"
	"go.uber.org/zap"
)

// app holds everything one process shares across runs. Only configuration,
// the catalog and the engines are shared; each run owns its own state.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	journal  *observability.Journal
	gateway  llm.Completer
	registry *tools.Registry
	extra    []tools.Descriptor
	simple   *rag.SimpleEngine
	hybrid   *rag.HybridEngine
	code     *agent.CodeAgent
	surf     *agent.SurfAgent
	runs     *store.RunStore
	history  *store.HistoryStore
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := store.Open(ctx, cfg.App.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.runs = store.NewRunStore(db)
	a.history = store.NewHistoryStore(db)

	a.journal = observability.NewJournal(cfg.LLM.JournalFile, cfg.Log.MaxSizeMB)
	a.gateway, err = llm.NewCompleter(ctx, cfg.LLM, a.journal, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedder(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	simpleStore, err := rag.NewSQLiteVectorStore(db, embedder, cfg.RAG.Simple.Collection)
	if err != nil {
		return nil, err
	}
	a.simple = rag.NewSimpleEngine(simpleStore, rag.NewSplitter(cfg.RAG.Simple.ChunkSize, cfg.RAG.Simple.Overlap),
		cfg.RAG.Simple.Collection, cfg.RAG.Simple.TopK, logger)

	hybridStore, err := rag.NewSQLiteVectorStore(db, embedder, cfg.RAG.Hybrid.Collection)
	if err != nil {
		return nil, err
	}
	graph, err := rag.NewGraphStore(db)
	if err != nil {
		return nil, err
	}
	a.hybrid = rag.NewHybridEngine(hybridStore, graph, embedder, a.gateway, cfg.RAG.Hybrid, cfg.RAG.Hybrid.SummaryModel, logger)

	a.registry = tools.NewRegistry()
	fetch := tools.NewFetchTool()
	a.registry.Register(tools.NewCalculateTool())
	a.registry.Register(fetch)
	a.registry.Register(tools.NewElaborateTool(a.gateway, cfg.LLM.HelperModel))
	a.registry.Register(tools.NewWorkspaceTool(cfg.App.Workspace))
	if search, err := tools.NewSearchTool(fetch); err != nil {
		logger.Warn("search_web unavailable", zap.Error(err))
	} else {
		a.registry.Register(search)
	}
	if cfg.Email.Host != "" {
		a.registry.Register(tools.NewEmailTool(cfg.Email))
	}
	a.registry.Register(tools.NewRAGIngestTool(a.simple))
	a.registry.Register(tools.NewRAGRetrieveTool(a.simple))
	a.registry.Register(tools.NewKnowledgeQueryTool(a.hybrid))

	if cfg.App.Catalog != "" {
		a.extra, err = tools.LoadCatalog(cfg.App.Catalog)
		if err != nil {
			return nil, err
		}
	}

	policy, err := governance.NewPolicyEngine(cfg.Agent.DeniedCapabilities, cfg.Browser.DeniedURLs)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "browser.denied_urls", Reason: err.Error()}
	}

	prompts := agent.NewPromptManager(cfg.Prompts.Dir, logger)
	a.code = agent.NewCodeAgent(a.gateway, prompts, executor.NewCodeRunner(a.registry, policy), cfg.LLM, cfg.Agent, logger)

	browserRunner := executor.NewBrowserRunner(cfg.Browser.MaxRetries, cfg.Browser.RetryBackoff, cfg.Browser.CommandTimeout, policy)
	launcher := agent.ManagerLauncher(browser.NewManager(cfg.Browser, logger))
	a.surf = agent.NewSurfAgent(a.gateway, prompts, browserRunner, launcher, cfg.LLM, cfg.Agent, logger)

	ok = true
	return a, nil
}

// Catalog is the registry's catalog followed by the configured augmentation
// file and then extra.
func (a *app) Catalog(extra ...tools.Descriptor) []tools.Descriptor {
	all := make([]tools.Descriptor, 0, len(a.extra)+len(extra))
	all = append(all, a.extra...)
	return a.registry.Catalog(append(all, extra...)...)
}

// record persists a finished or failed run.
func (a *app) record(ctx context.Context, res *agent.Result, err error) {
	rec := gateway.RecordOf(res, err)
	if rec == nil {
		return
	}
	if serr := a.runs.Save(ctx, *rec); serr != nil {
		a.logger.Warn("run not recorded", zap.String("run_id", rec.RunID), zap.Error(serr))
	}
}

func (a *app) Close() {
	if a.journal != nil {
		_ = a.journal.Sync()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
