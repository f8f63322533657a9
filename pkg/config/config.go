// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads sextant configuration from defaults, a YAML file,
// an optional profile overlay and SEXTANT_ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/sextant/pkg/agent"
	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/events/amqp"
	"github.com/jllopis/sextant/pkg/governance"
	"github.com/jllopis/sextant/pkg/mcp/pool"
	"github.com/jllopis/sextant/pkg/memory/redis"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore: SEXTANT_AGENT__MAX_ITERATIONS sets agent.max_iterations.
const EnvPrefix = "SEXTANT_"

// ProfileEnv selects a profile when none is passed explicitly.
const ProfileEnv = "SEXTANT_PROFILE"

type Config struct {
	Log        LogConfig                      `koanf:"log"`
	Telemetry  TelemetryConfig                `koanf:"telemetry"`
	MCP        MCPConfig                      `koanf:"mcp"`
	Providers  map[string]pool.ProviderConfig `koanf:"providers"`
	Models     ModelsConfig                   `koanf:"models"`
	Modes      map[string]core.ModeSpec       `koanf:"modes"`
	Agent      agent.Config                   `koanf:"agent"`
	Memory     MemoryConfig                   `koanf:"memory"`
	Catalog    string                         `koanf:"catalog"`
	Governance GovernanceConfig               `koanf:"governance"`
	Events     EventsConfig                   `koanf:"events"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`
}

// MCPConfig tunes the protocol client shared by every provider.
type MCPConfig struct {
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	CallTimeout      time.Duration `koanf:"call_timeout"`
	// ResultLimit truncates capability output folded into the transcript.
	ResultLimit int `koanf:"result_limit"`
	ListRetries int `koanf:"list_retries"`
	// HealthInterval enables background session probes when positive.
	HealthInterval time.Duration `koanf:"health_interval"`
}

type ModelsConfig struct {
	Primary    ModelConfig `koanf:"primary"`
	Auxiliary  ModelConfig `koanf:"auxiliary"`
	Summarizer ModelConfig `koanf:"summarizer"`
}

// ModelConfig selects a chat backend. An empty Provider disables the tier.
type ModelConfig struct {
	Provider  string `koanf:"provider"` // openai, anthropic, gemini, ollama, mock
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	MaxTokens int64  `koanf:"max_tokens"`
}

// Enabled reports whether the tier is configured.
func (m ModelConfig) Enabled() bool { return m.Provider != "" }

type MemoryConfig struct {
	Backend     string         `koanf:"backend"` // none, file, sqlite, redis
	Path        string         `koanf:"path"`
	DSN         string         `koanf:"dsn"`
	Redis       redis.Config   `koanf:"redis"`
	MaxEpisodes int            `koanf:"max_episodes"`
	MaxAge      time.Duration  `koanf:"max_age"`
	Semantic    SemanticConfig `koanf:"semantic"`
}

// SemanticConfig attaches a vector index to episode retrieval.
type SemanticConfig struct {
	Enabled         bool    `koanf:"enabled"`
	QdrantAddr      string  `koanf:"qdrant_addr"`
	Collection      string  `koanf:"collection"`
	Weight          float64 `koanf:"weight"`
	EmbedderBaseURL string  `koanf:"embedder_base_url"`
	EmbedderModel   string  `koanf:"embedder_model"`
}

type GovernanceConfig struct {
	Allow []string                `koanf:"allow"`
	Deny  []string                `koanf:"deny"`
	Rules []governance.RuleConfig `koanf:"rules"`
}

// Filter builds the capability filter described by the section. It returns
// nil when no rule is configured.
func (g GovernanceConfig) Filter() *governance.CapabilityFilter {
	if len(g.Allow) == 0 && len(g.Deny) == 0 && len(g.Rules) == 0 {
		return nil
	}
	opts := []governance.FilterOption{
		governance.WithAllowlist(g.Allow),
		governance.WithDenylist(g.Deny),
	}
	if len(g.Rules) > 0 {
		opts = append(opts, governance.WithPolicyEngine(governance.RuleSetFromConfig(g.Rules)))
	}
	return governance.NewCapabilityFilter(opts...)
}

type EventsConfig struct {
	// Log mirrors loop events to the logger at debug level.
	Log  bool        `koanf:"log"`
	AMQP amqp.Config `koanf:"amqp"`
}

func setDefaults(k *koanf.Koanf) {
	def := agent.DefaultConfig()
	defaults := map[string]any{
		"log.level":                         "info",
		"log.format":                        "text",
		"telemetry.exporter":                "none",
		"telemetry.otlp_endpoint":           "localhost:4317",
		"telemetry.otlp_insecure":           true,
		"telemetry.service_name":            "sextant",
		"mcp.handshake_timeout":             "10s",
		"mcp.call_timeout":                  "30s",
		"mcp.result_limit":                  3000,
		"mcp.list_retries":                  3,
		"models.primary.provider":           "ollama",
		"models.primary.model":              "qwen2.5-coder:7b-instruct-q5_K_M",
		"models.primary.base_url":           "http://localhost:11434",
		"agent.max_iterations":              def.MaxIterations,
		"agent.parallelism":                 def.Parallelism,
		"agent.call_timeout":                def.CallTimeout.String(),
		"agent.context_tokens":              def.ContextTokens,
		"agent.compact_threshold":           def.CompactThreshold,
		"agent.reminder_threshold":          def.ReminderThreshold,
		"agent.episode_top_k":               def.EpisodeTopK,
		"agent.keep_recent":                 def.KeepRecent,
		"agent.search_limit":                def.SearchLimit,
		"memory.backend":                    "file",
		"memory.path":                       "sextant-episodes.jsonl",
		"memory.max_episodes":               100,
		"memory.redis.address":              "localhost:6379",
		"memory.redis.key":                  "sextant:episodes",
		"memory.semantic.enabled":           false,
		"memory.semantic.qdrant_addr":       "localhost:6334",
		"memory.semantic.collection":        "sextant_episodes",
		"memory.semantic.weight":            0.5,
		"memory.semantic.embedder_base_url": "http://localhost:11434",
		"memory.semantic.embedder_model":    "nomic-embed-text",
		"events.amqp.exchange":              "sextant.events",
		"events.amqp.prefix":                "sextant",
	}
	for key, v := range defaults {
		_ = k.Set(key, v)
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, os.Getenv(ProfileEnv))
}

// LoadWithProfile is Load with a profile overlay: for config.yaml and
// profile "dev", config.dev.yaml is merged over the base file when present.
func LoadWithProfile(path, profile string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "load config file", err).
				WithContext("path", path)
		}
		if profile != "" {
			overlay := ProfilePath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, errors.New(errors.CodeInvalidInput, "load profile file", err).
						WithContext("path", overlay)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "load environment", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SEXTANT_MEMORY__REDIS__ADDRESS to memory.redis.address.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "profile" {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// ProfilePath returns the overlay file name for profile next to path.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if !c.Models.Primary.Enabled() {
		return errors.New(errors.CodeInvalidInput, "models.primary.provider is required", nil)
	}
	for _, m := range []ModelConfig{c.Models.Primary, c.Models.Auxiliary, c.Models.Summarizer} {
		switch m.Provider {
		case "", "openai", "anthropic", "gemini", "ollama", "mock":
		default:
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown model provider %q", m.Provider), nil)
		}
	}
	for name, spec := range c.Modes {
		if _, err := core.ParseMode(name); err != nil {
			return errors.New(errors.CodeInvalidInput, "invalid mode", err)
		}
		switch spec.Tier {
		case "", core.TierPrimary, core.TierAuxiliary:
		default:
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("mode %s: unknown tier %q", name, spec.Tier), nil)
		}
	}
	switch c.Memory.Backend {
	case "", "none", "file", "sqlite", "redis":
	default:
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend), nil)
	}
	for name, p := range c.Providers {
		if p.Endpoint == "" {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("provider %s: endpoint is required", name), nil)
		}
	}
	return nil
}

// RoutingPolicy overlays the configured modes on the built-in table. A
// mode without a tier keeps the built-in one.
func (c *Config) RoutingPolicy() core.RoutingPolicy {
	policy := core.DefaultRoutingPolicy()
	for name, spec := range c.Modes {
		mode, err := core.ParseMode(name)
		if err != nil {
			continue
		}
		if spec.Tier == "" {
			spec.Tier = policy.Spec(mode).Tier
		}
		policy[mode] = spec
	}
	return policy
}

// ProviderConfigs returns the providers sorted by name, with names taken
// from their keys.
func (c *Config) ProviderConfigs() []pool.ProviderConfig {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]pool.ProviderConfig, 0, len(names))
	for _, name := range names {
		p := c.Providers[name]
		p.Name = name
		out = append(out, p)
	}
	return out
}
