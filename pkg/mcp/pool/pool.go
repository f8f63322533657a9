// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool manages one protocol session per configured capability
// provider and routes invocations to the provider that owns a capability.
//
// Sessions are opened lazily on first use. A session that drops is not
// reopened behind the caller's back: the background health check forgets
// it and the next Get dials again.
//
//	p := pool.New(pool.WithHealthCheckInterval(30 * time.Second))
//	_ = p.Register(pool.ProviderConfig{Name: "inventory", Endpoint: "stdio:inventory-mcp"})
//	descs, _ := p.ListCapabilities(ctx)
//	res := p.Invoke(ctx, mcp.CallRequest{Capability: "inventory_check_stock"}, 0)
package pool

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/resilience"
	"github.com/jllopis/sextant/pkg/telemetry"
)

var (
	// ErrPoolClosed is returned when operations are attempted on a closed pool.
	ErrPoolClosed = stderrors.New("provider pool is closed")

	// ErrProviderNotFound is returned for an unregistered provider name.
	ErrProviderNotFound = stderrors.New("provider not found in pool")

	// ErrInvalidProviderConfig is returned when a provider configuration is invalid.
	ErrInvalidProviderConfig = stderrors.New("invalid provider configuration")
)

// ProviderConfig describes one capability provider.
type ProviderConfig struct {
	// Name is the logical identifier for this provider.
	Name string `koanf:"name"`

	// Endpoint is dialed by the pool's client, e.g. "stdio:inventory-mcp --db x"
	// or "tcp://localhost:7001".
	Endpoint string `koanf:"endpoint"`

	// CallTimeout overrides the client default for calls to this provider.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// Pool owns the sessions to every registered provider.
type Pool struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	order     []string
	sessions  map[string]*mcp.Session
	owners    map[string]string
	closed    atomic.Bool

	client              *mcp.Client
	retry               resilience.RetryConfig
	healthCheckInterval time.Duration
	logger              *slog.Logger

	dialMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalConnections   atomic.Int64
	connectionErrors   atomic.Int64
	healthChecksPassed atomic.Int64
	healthChecksFailed atomic.Int64
}

// Option configures the pool.
type Option func(*Pool)

// WithClient sets the protocol client used to open sessions.
func WithClient(c *mcp.Client) Option {
	return func(p *Pool) {
		if c != nil {
			p.client = c
		}
	}
}

// WithHealthCheckInterval sets how often sessions are checked. Zero
// disables the background check.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(p *Pool) {
		if interval >= 0 {
			p.healthCheckInterval = interval
		}
	}
}

// WithListRetry sets the retry policy for capability listing.
func WithListRetry(rc resilience.RetryConfig) Option {
	return func(p *Pool) { p.retry = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a provider pool.
func New(opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		providers:           make(map[string]ProviderConfig),
		sessions:            make(map[string]*mcp.Session),
		owners:              make(map[string]string),
		retry:               resilience.DefaultRetryConfig(),
		healthCheckInterval: 30 * time.Second,
		logger:              telemetry.Component(slog.Default(), "pool"),
		ctx:                 ctx,
		cancel:              cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = mcp.NewClient(mcp.WithLogger(p.logger))
	}
	if p.healthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthChecker()
	}
	return p
}

// Register adds a provider. Registering an existing name replaces its
// configuration; an open session is kept until it drops.
func (p *Pool) Register(cfg ProviderConfig) error {
	if cfg.Name == "" || cfg.Endpoint == "" {
		return ErrInvalidProviderConfig
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if _, exists := p.providers[cfg.Name]; !exists {
		p.order = append(p.order, cfg.Name)
	}
	p.providers[cfg.Name] = cfg
	return nil
}

// Unregister removes a provider and closes its session.
func (p *Pool) Unregister(name string) error {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	delete(p.providers, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	for capName, owner := range p.owners {
		if owner == name {
			delete(p.owners, capName)
		}
	}
	s := p.sessions[name]
	delete(p.sessions, name)
	p.mu.Unlock()

	if s != nil {
		return s.Close()
	}
	return nil
}

// Get returns a Ready session to the provider, dialing if there is none.
func (p *Pool) Get(ctx context.Context, name string) (*mcp.Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if s := p.liveSession(name); s != nil {
		return s, nil
	}

	// One dial at a time keeps concurrent callers from racing two sessions
	// to the same provider.
	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if s := p.liveSession(name); s != nil {
		return s, nil
	}

	p.mu.RLock()
	cfg, ok := p.providers[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	s, err := p.client.Connect(ctx, cfg.Endpoint)
	if err != nil {
		p.connectionErrors.Add(1)
		p.logger.Warn("pool.connect.failed", slog.String("provider", name), slog.String("error", err.Error()))
		return nil, errors.AsSextantError(err).WithContext("provider", name)
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = s.Close()
		return nil, ErrPoolClosed
	}
	p.sessions[name] = s
	p.mu.Unlock()
	p.totalConnections.Add(1)
	p.logger.Info("pool.connect", slog.String("provider", name))
	return s, nil
}

func (p *Pool) liveSession(name string) *mcp.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.sessions[name]; ok && s.State() == mcp.StateReady {
		return s
	}
	return nil
}

// ListCapabilities lists every provider's capabilities and records which
// provider owns each name. Providers are visited in registration order;
// when two expose the same name the first one wins. A provider that cannot
// be reached is skipped and its error is aggregated into the returned error
// alongside the capabilities that were listed.
func (p *Pool) ListCapabilities(ctx context.Context) ([]mcp.Descriptor, error) {
	p.mu.RLock()
	names := append([]string(nil), p.order...)
	p.mu.RUnlock()

	var (
		out    []mcp.Descriptor
		merr   *multierror.Error
		owners = make(map[string]string)
	)
	for _, name := range names {
		descs, err := resilience.Retry(ctx, p.retry, func(ctx context.Context) ([]mcp.Descriptor, error) {
			s, err := p.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			return s.ListCapabilities(ctx)
		})
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("provider %s: %w", name, err))
			continue
		}
		for _, d := range descs {
			if prev, dup := owners[d.Name]; dup {
				p.logger.Warn("pool.capability.duplicate",
					slog.String("capability", d.Name),
					slog.String("kept", prev),
					slog.String("ignored", name),
				)
				continue
			}
			d.Provider = name
			owners[d.Name] = name
			out = append(out, d)
		}
	}

	p.mu.Lock()
	p.owners = owners
	p.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, merr.ErrorOrNil()
}

// Owner returns the provider that exposes a capability.
func (p *Pool) Owner(capability string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, ok := p.owners[capability]
	return name, ok
}

// FetchSchema returns the full parameter schema of a capability by listing
// its owning provider again.
func (p *Pool) FetchSchema(ctx context.Context, capability string) (json.RawMessage, error) {
	owner, ok := p.Owner(capability)
	if !ok {
		return nil, errors.New(errors.CodeUnknownCapability, "no provider owns capability", nil).
			WithContext("capability", capability)
	}
	s, err := p.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	descs, err := s.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range descs {
		if d.Name == capability {
			return d.Schema, nil
		}
	}
	return nil, errors.New(errors.CodeUnknownCapability, "provider no longer exposes capability", nil).
		WithContext("capability", capability).
		WithContext("provider", owner)
}

// Invoke routes a call to the capability's owner. It always returns a
// result and never retries. It never dials: a provider whose session
// dropped fails with ConnectionLost until the next Get or
// ListCapabilities reconnects it.
func (p *Pool) Invoke(ctx context.Context, req mcp.CallRequest, timeout time.Duration) mcp.CallResult {
	if p.closed.Load() {
		return mcp.FailedResult(req, errors.CodeNotReady, ErrPoolClosed.Error())
	}
	owner, ok := p.Owner(req.Capability)
	if !ok {
		return mcp.FailedResult(req, errors.CodeUnknownCapability, "unknown capability "+req.Capability)
	}
	p.mu.RLock()
	cfg := p.providers[owner]
	p.mu.RUnlock()
	if timeout <= 0 {
		timeout = cfg.CallTimeout
	}

	s := p.liveSession(owner)
	if s == nil {
		return mcp.FailedResult(req, errors.CodeConnectionLost,
			"provider "+owner+" is not connected; list capabilities to reconnect")
	}
	return s.Invoke(ctx, req, timeout)
}

// Check implements core.HealthChecker over all open sessions.
func (p *Pool) Check(ctx context.Context) core.HealthResult {
	p.mu.RLock()
	checkers := make(map[string]core.HealthChecker, len(p.sessions))
	for name, s := range p.sessions {
		checkers[name] = s
	}
	registered := len(p.providers)
	p.mu.RUnlock()

	results, status := core.CheckAll(ctx, checkers)
	if len(results) < registered && status == core.HealthHealthy {
		status = core.HealthDegraded
	}
	return core.HealthResult{
		Component: "pool",
		Status:    status,
		Message:   fmt.Sprintf("%d/%d providers connected", len(results), registered),
		LastCheck: time.Now().UTC(),
	}
}

// Close shuts down the pool and all sessions.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*mcp.Session)
	p.mu.Unlock()

	var merr *multierror.Error
	for name, s := range sessions {
		if err := s.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return merr.ErrorOrNil()
}

// Stats contains pool counters.
type Stats struct {
	RegisteredProviders int
	OpenSessions        int
	TotalConnections    int
	ConnectionErrors    int
	HealthChecksPassed  int
	HealthChecksFailed  int
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	registered, open := len(p.providers), len(p.sessions)
	p.mu.RUnlock()
	return Stats{
		RegisteredProviders: registered,
		OpenSessions:        open,
		TotalConnections:    int(p.totalConnections.Load()),
		ConnectionErrors:    int(p.connectionErrors.Load()),
		HealthChecksPassed:  int(p.healthChecksPassed.Load()),
		HealthChecksFailed:  int(p.healthChecksFailed.Load()),
	}
}

// Providers returns the registered provider names in registration order.
func (p *Pool) Providers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

func (p *Pool) healthChecker() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

// runHealthChecks forgets sessions that are no longer Ready.
func (p *Pool) runHealthChecks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, s := range p.sessions {
		if s.State() == mcp.StateReady {
			p.healthChecksPassed.Add(1)
			continue
		}
		p.healthChecksFailed.Add(1)
		delete(p.sessions, name)
		p.logger.Warn("pool.session.dropped", slog.String("provider", name), slog.Any("error", s.Err()))
	}
}
