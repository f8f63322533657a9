// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/jllopis/sextant/pkg/agent"
	"github.com/jllopis/sextant/pkg/config"
	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/events"
	"github.com/jllopis/sextant/pkg/events/amqp"
	"github.com/jllopis/sextant/pkg/governance"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/mcp/pool"
	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/memory/ollama"
	"github.com/jllopis/sextant/pkg/memory/qdrant"
	"github.com/jllopis/sextant/pkg/memory/redis"
	"github.com/jllopis/sextant/pkg/memory/sqlite"
	"github.com/jllopis/sextant/pkg/registry"
	"github.com/jllopis/sextant/pkg/resilience"
	"github.com/jllopis/sextant/pkg/telemetry"
	"github.com/jllopis/sextant/providers/anthropic"
	"github.com/jllopis/sextant/providers/gemini"
	"github.com/jllopis/sextant/providers/openai"
)

// mockReply is what the "mock" model provider answers.
const mockReply = "mock response"

// app holds the long-lived components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pool.Pool
	registry *registry.Registry
	store    *memory.Store
	emitter  events.Multi
	closers  []io.Closer
	shutdown telemetry.ShutdownFunc
}

// newApp wires providers, the registry and episodic memory from cfg. The
// capability index is filled lazily by sync.
func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*app, error) {
	logger := telemetry.ConfigureSlog(logOutput, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.Init(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, shutdown: shutdown}

	client := mcp.NewClient(
		mcp.WithHandshakeTimeout(cfg.MCP.HandshakeTimeout),
		mcp.WithCallTimeout(cfg.MCP.CallTimeout),
		mcp.WithResultLimit(cfg.MCP.ResultLimit),
		mcp.WithLogger(telemetry.Component(logger, "mcp")),
	)
	retry := resilience.DefaultRetryConfig()
	if cfg.MCP.ListRetries > 0 {
		retry = retry.WithMaxAttempts(cfg.MCP.ListRetries)
	}
	a.pool = pool.New(
		pool.WithClient(client),
		pool.WithHealthCheckInterval(cfg.MCP.HealthInterval),
		pool.WithListRetry(retry),
		pool.WithLogger(telemetry.Component(logger, "pool")),
	)
	a.closers = append(a.closers, a.pool)
	rules := governance.RuleSetFromConfig(cfg.Governance.Rules)
	for _, p := range cfg.ProviderConfigs() {
		decision := rules.Evaluate(ctx, governance.Action{Type: governance.ActionProvider, Name: p.Name})
		if decision.IsDenied() {
			logger.Info("pool.provider.denied",
				slog.String("provider", p.Name),
				slog.String("rule", decision.RuleID),
				slog.String("reason", decision.Reason),
			)
			continue
		}
		if err := a.pool.Register(p); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	regOpts := []registry.Option{registry.WithLogger(telemetry.Component(logger, "registry"))}
	if cfg.Catalog != "" {
		catalog, err := registry.LoadCatalog(cfg.Catalog)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("load catalog %s: %w", cfg.Catalog, err)
		}
		regOpts = append(regOpts, registry.WithCatalog(catalog))
	}
	a.registry = registry.New(a.pool, regOpts...)

	if a.store, err = a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Events.Log {
		a.emitter = append(a.emitter, events.NewLogEmitter(telemetry.Component(logger, "events"), slog.LevelDebug))
	}
	if cfg.Events.AMQP.URL != "" {
		pub, err := amqp.Dial(cfg.Events.AMQP)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.emitter = append(a.emitter, pub)
		a.closers = append(a.closers, pub)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (*memory.Store, error) {
	mc := a.cfg.Memory
	logger := telemetry.Component(a.logger, "memory")
	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithMaxEpisodes(mc.MaxEpisodes),
	}

	switch mc.Backend {
	case "file":
		opts = append(opts, memory.WithBackend(memory.NewFileBackend(mc.Path, logger)))
	case "sqlite":
		dsn := mc.DSN
		if dsn == "" {
			dsn = mc.Path
		}
		b, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		opts = append(opts, memory.WithBackend(b))
	case "redis":
		b, err := redis.New(ctx, mc.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		opts = append(opts, memory.WithBackend(b))
	}

	if mc.Semantic.Enabled {
		if idx := a.openIndex(ctx, logger); idx != nil {
			opts = append(opts, memory.WithIndex(idx, mc.Semantic.Weight))
		}
	}

	store := memory.NewStore(opts...)
	// A missing or corrupt log starts empty; Load already logged it.
	_ = store.Load(ctx)
	return store, nil
}

// openIndex connects the vector index. Failures leave retrieval on keywords
// only.
func (a *app) openIndex(ctx context.Context, logger *slog.Logger) *memory.SemanticIndex {
	sc := a.cfg.Memory.Semantic
	vectors, err := qdrant.New(sc.QdrantAddr)
	if err != nil {
		logger.Warn("memory.index.unavailable", slog.String("error", err.Error()))
		return nil
	}
	idx := memory.NewSemanticIndex(vectors, ollama.NewEmbedder(sc.EmbedderBaseURL, sc.EmbedderModel), sc.Collection)
	if err := idx.Init(ctx); err != nil {
		logger.Warn("memory.index.unavailable", slog.String("error", err.Error()))
		_ = vectors.Close()
		return nil
	}
	a.closers = append(a.closers, vectors)
	return idx
}

// sync indexes the capabilities every provider lists. Providers that fail
// are logged and skipped.
func (a *app) sync(ctx context.Context) {
	if err := a.registry.Sync(ctx, a.pool); err != nil {
		a.logger.Warn("registry.sync.partial", slog.String("error", err.Error()))
	}
}

// newAgent builds an agent from cfg. It is cheap and is called again when
// the configuration is reloaded.
func (a *app) newAgent(cfg *config.Config, extra ...core.EventEmitter) (*agent.Agent, error) {
	opts := []agent.Option{
		agent.WithConfig(cfg.Agent),
		agent.WithEpisodes(a.store),
		agent.WithRoutingPolicy(cfg.RoutingPolicy()),
		agent.WithModeFilter(governance.NewModeFilter(cfg.Governance.Filter())),
		agent.WithLogger(telemetry.Component(a.logger, "agent")),
	}

	tiers := []struct {
		mc   config.ModelConfig
		with func(llm.Provider, string) agent.Option
	}{
		{cfg.Models.Primary, agent.WithPrimary},
		{cfg.Models.Auxiliary, agent.WithAuxiliary},
		{cfg.Models.Summarizer, agent.WithSummarizer},
	}
	for _, t := range tiers {
		if !t.mc.Enabled() {
			continue
		}
		p, err := newModel(t.mc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, t.with(p, t.mc.Model))
	}

	emitters := append(events.Multi{}, a.emitter...)
	emitters = append(emitters, extra...)
	if len(emitters) > 0 {
		opts = append(opts, agent.WithEventEmitter(emitters))
	}
	return agent.New(a.registry, a.pool, opts...)
}

func newModel(mc config.ModelConfig) (llm.Provider, error) {
	switch mc.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(mc.Model)}
		if mc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(mc.BaseURL))
		}
		if mc.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(mc.APIKey))
		}
		return openai.New(opts...), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(mc.Model)}
		if mc.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(mc.BaseURL))
		}
		if mc.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(mc.APIKey))
		}
		if mc.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(mc.MaxTokens))
		}
		return anthropic.New(opts...), nil
	case "gemini":
		return gemini.New(context.Background(), gemini.WithModel(mc.Model), gemini.WithAPIKey(mc.APIKey))
	case "ollama":
		return llm.NewOllama(mc.BaseURL, llm.WithOllamaModel(mc.Model)), nil
	case "mock":
		return &llm.MockProvider{Response: mockReply}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}
}

// healthCheckers lists the components reported by the health command.
func (a *app) healthCheckers(ag *agent.Agent) map[string]core.HealthChecker {
	checkers := map[string]core.HealthChecker{
		"agent":     agent.NewAgentHealthChecker(ag),
		"providers": a.pool,
		"catalog": agent.NewCatalogHealthChecker("pool", func(ctx context.Context) (int, error) {
			descs, err := a.pool.ListCapabilities(ctx)
			return len(descs), err
		}),
	}
	for tier, mc := range map[string]config.ModelConfig{
		"primary":    a.cfg.Models.Primary,
		"auxiliary":  a.cfg.Models.Auxiliary,
		"summarizer": a.cfg.Models.Summarizer,
	} {
		if mc.Enabled() {
			checkers["llm:"+tier] = agent.NewLLMHealthChecker(mc.Provider+"/"+mc.Model, nil)
		}
	}
	return checkers
}

// Close releases every connection in reverse order. Episodes are written
// through on record, so there is nothing to flush.
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
