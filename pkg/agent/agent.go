// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the LLM-driven agent loop: it discovers
// capabilities on demand, invokes them through a provider pool and learns
// from previous runs through episodic memory.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/governance"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/registry"
	"github.com/jllopis/sextant/pkg/resilience"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// Defaults for Config.
const (
	DefaultMaxIterations     = 50
	DefaultParallelism       = 4
	DefaultCallTimeout       = 30 * time.Second
	DefaultContextTokens     = 100_000
	DefaultCompactThreshold  = 0.75
	DefaultReminderThreshold = 0.5
	DefaultEpisodeTopK       = 3
	DefaultKeepRecent        = 6
)

const defaultSystemPrompt = `You are an operations assistant connected to a remote capability provider.
Capabilities are not loaded upfront. Use the ` + DiscoveryTool + ` tool to find them by keywords,
then load one with "select:<name>" before calling it. Capabilities marked with ! change remote state.
Track multi-step work with ` + TaskTool + ` when it is offered, and hand self-contained lookups
to a sub-agent with ` + DelegateTool + ` when it is offered.
When you have what you need, answer the user directly without calling more tools.`

// Invoker executes concrete capability calls. *pool.Pool implements it.
type Invoker interface {
	Invoke(ctx context.Context, req mcp.CallRequest, timeout time.Duration) mcp.CallResult
}

// Catalog resolves discovery requests. *registry.Registry implements it.
type Catalog interface {
	Search(query string, topK int, filters ...registry.Filter) []mcp.Descriptor
	Select(ctx context.Context, session *core.SessionState, name string) (mcp.Descriptor, error)
	Lookup(name string) (mcp.Descriptor, bool)
	Knowledge(name string) string
}

// Episodes is the episodic memory used for hints and learning.
// *memory.Store implements it.
type Episodes interface {
	Retrieve(ctx context.Context, signature string, topK int) []memory.Episode
	Record(ctx context.Context, e memory.Episode) error
}

// Model binds a provider to a model name.
type Model struct {
	Provider llm.Provider
	Name     string
}

func (m Model) ok() bool { return m.Provider != nil }

// Config holds the loop limits.
type Config struct {
	MaxIterations int           `koanf:"max_iterations"`
	Parallelism   int           `koanf:"parallelism"`
	CallTimeout   time.Duration `koanf:"call_timeout"`
	ContextTokens int           `koanf:"context_tokens"`
	// CompactThreshold is the share of ContextTokens that triggers history
	// compaction.
	CompactThreshold float64 `koanf:"compact_threshold"`
	// ReminderThreshold is the share of ContextTokens after which tool
	// results carry a context reminder.
	ReminderThreshold float64 `koanf:"reminder_threshold"`
	EpisodeTopK       int     `koanf:"episode_top_k"`
	// KeepRecent is the number of trailing messages kept verbatim on
	// compaction.
	KeepRecent   int     `koanf:"keep_recent"`
	SearchLimit  int     `koanf:"search_limit"`
	Temperature  float64 `koanf:"temperature"`
	SystemPrompt string  `koanf:"system_prompt"`
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		Parallelism:       DefaultParallelism,
		CallTimeout:       DefaultCallTimeout,
		ContextTokens:     DefaultContextTokens,
		CompactThreshold:  DefaultCompactThreshold,
		ReminderThreshold: DefaultReminderThreshold,
		EpisodeTopK:       DefaultEpisodeTopK,
		KeepRecent:        DefaultKeepRecent,
		SearchLimit:       registry.DefaultTopK,
		SystemPrompt:      defaultSystemPrompt,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.ContextTokens <= 0 {
		c.ContextTokens = d.ContextTokens
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = d.CompactThreshold
	}
	if c.ReminderThreshold <= 0 {
		c.ReminderThreshold = d.ReminderThreshold
	}
	if c.EpisodeTopK <= 0 {
		c.EpisodeTopK = d.EpisodeTopK
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = d.KeepRecent
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = d.SearchLimit
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	return c
}

// Agent runs conversations against a capability provider. It is safe for
// concurrent use by independent sessions.
type Agent struct {
	cfg        Config
	primary    Model
	auxiliary  Model
	summarizer Model
	breaker    *resilience.CircuitBreaker

	catalog  Catalog
	invoker  Invoker
	episodes Episodes
	modes    *governance.ModeFilter
	policy   core.RoutingPolicy
	emitter  core.EventEmitter

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// ErrMissingModel is returned by New without a primary model.
var ErrMissingModel = errors.New("agent primary model is required")

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent. The primary model, catalog and invoker are
// required.
func New(catalog Catalog, invoker Invoker, opts ...Option) (*Agent, error) {
	a := &Agent{
		cfg:     DefaultConfig(),
		catalog: catalog,
		invoker: invoker,
		policy:  core.DefaultRoutingPolicy(),
		emitter: core.NoopEventEmitter{},
		logger:  telemetry.Component(slog.Default(), "agent"),
		tracer:  otel.Tracer("sextant/agent"),
		metrics: telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if !a.primary.ok() {
		return nil, ErrMissingModel
	}
	if a.catalog == nil {
		return nil, errors.New("agent catalog is required")
	}
	if a.invoker == nil {
		return nil, errors.New("agent invoker is required")
	}
	if a.breaker == nil {
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "model.auxiliary",
			FailureThreshold: 3,
			Timeout:          30 * time.Second,
		})
	}
	a.cfg = a.cfg.withDefaults()
	return a, nil
}

// WithPrimary sets the primary model.
func WithPrimary(p llm.Provider, model string) Option {
	return func(a *Agent) error {
		a.primary = Model{Provider: p, Name: model}
		return nil
	}
}

// WithAuxiliary sets the auxiliary model used by auxiliary-tier modes.
func WithAuxiliary(p llm.Provider, model string) Option {
	return func(a *Agent) error {
		a.auxiliary = Model{Provider: p, Name: model}
		return nil
	}
}

// WithSummarizer sets the model used for history compaction. The primary
// model is used when unset.
func WithSummarizer(p llm.Provider, model string) Option {
	return func(a *Agent) error {
		a.summarizer = Model{Provider: p, Name: model}
		return nil
	}
}

// WithConfig replaces the loop limits. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(a *Agent) error {
		if cfg.MaxIterations < 0 || cfg.Parallelism < 0 {
			return NewInvalidInputError("negative loop limits")
		}
		a.cfg = cfg
		return nil
	}
}

// WithEpisodes attaches episodic memory.
func WithEpisodes(e Episodes) Option {
	return func(a *Agent) error {
		a.episodes = e
		return nil
	}
}

// WithModeFilter sets the governance filter applied to discovery.
func WithModeFilter(f *governance.ModeFilter) Option {
	return func(a *Agent) error {
		a.modes = f
		return nil
	}
}

// WithRoutingPolicy sets the mode table used for new sessions.
func WithRoutingPolicy(p core.RoutingPolicy) Option {
	return func(a *Agent) error {
		if p != nil {
			a.policy = p
		}
		return nil
	}
}

// WithEventEmitter sets the emitter receiving every loop event.
func WithEventEmitter(e core.EventEmitter) Option {
	return func(a *Agent) error {
		if e != nil {
			a.emitter = e
		}
		return nil
	}
}

// WithBreaker replaces the auxiliary model circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Agent) error {
		a.breaker = cb
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = telemetry.Component(l, "agent")
		}
		return nil
	}
}

// NewSession creates a session using the agent routing policy.
func (a *Agent) NewSession(mode core.Mode) *core.SessionState {
	return core.NewSessionState(mode, a.policy)
}

// Config returns the effective loop limits.
func (a *Agent) Config() Config { return a.cfg }
