package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/dome/catalog"
	"github.com/martinemde/dome/checkpoint"
	"github.com/martinemde/dome/config"
	"github.com/martinemde/dome/docgen"
	"github.com/martinemde/dome/llm"
	"github.com/martinemde/dome/logging"
	"github.com/martinemde/dome/orchestrator"
	"github.com/martinemde/dome/research"
	"github.com/martinemde/dome/store"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

// app holds the wired components of a chat session.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *store.BoltStore
	checkpoints *checkpoint.MemoryStore
	engine      *orchestrator.Engine
	decls       []tools.Declaration
}

func loadConfig(g *Globals) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(g *Globals) (*app, error) {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.db, err = store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	gen, err := docgen.New(cfg.DocgenSettings(), docgen.WithLogger(logger.Named("docgen")))
	if err != nil {
		return nil, err
	}
	handlers := catalog.Handlers{KB: a.db, Gen: gen}
	if cfg.Research.Enabled {
		handlers.Web = research.New(cfg.ResearchSettings(), research.WithLogger(logger.Named("research")))
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.checkpoints = checkpoint.NewMemoryStore(cfg.CheckpointOptions(logger.Named("checkpoint"))...)
	a.checkpoints.Start(cfg.Checkpoint.SweepInterval.Duration)

	composer := subagent.NewComposer(client,
		subagent.WithLogger(logger.Named("subagent")),
		subagent.WithConfig(cfg.SubagentSettings()),
	)
	a.engine = orchestrator.New(client, a.checkpoints, handlers.Lookup,
		orchestrator.WithComposer(composer),
		orchestrator.WithPolicy(cfg.Policy(composer.Specs())),
		orchestrator.WithAuditor(a.db),
		orchestrator.WithLogger(logger.Named("engine")),
		orchestrator.WithConfig(cfg.EngineSettings()),
	)

	a.decls, err = catalog.Declarations()
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.checkpoints != nil {
		a.checkpoints.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// newClient registers a gollm adapter for the supervisor provider and, when
// it differs, the subagent provider.
func newClient(cfg *config.Config, logger *zap.Logger) (*llm.Client, error) {
	type target struct{ provider, model, key string }
	targets := []target{{cfg.LLM.Provider, cfg.LLM.Model, cfg.GetAPIKey()}}
	if sub := cfg.SubagentSettings(); sub.Provider != cfg.LLM.Provider {
		targets = append(targets, target{sub.Provider, sub.Model, os.Getenv(config.DefaultAPIKeyEnv(sub.Provider))})
	}

	opts := []llm.ClientOption{llm.WithDefaultProvider(cfg.LLM.Provider)}
	for _, t := range targets {
		adapterOpts := []llm.GollmAdapterOption{
			llm.WithModel(t.model),
			llm.WithMaxTokens(cfg.LLM.MaxTokens),
		}
		if t.key != "" {
			adapterOpts = append(adapterOpts, llm.WithAPIKey(t.key))
		}
		if cfg.LLM.Temperature != nil {
			adapterOpts = append(adapterOpts, llm.WithTemperature(*cfg.LLM.Temperature))
		}
		adapter, err := llm.NewGollmAdapter(t.provider, adapterOpts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", t.provider, err)
		}
		opts = append(opts, llm.WithProvider(t.provider, adapter))
	}

	if cfg.LLM.Retries > 0 {
		policy := llm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.LLM.Retries
		policy.BaseDelay = cfg.LLM.RetryBaseDelay.Seconds()
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			logger.Warn("retrying model call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
		opts = append(opts, llm.WithMiddleware(llm.RetryMiddleware(policy)))
	}
	return llm.NewClient(opts...), nil
}
