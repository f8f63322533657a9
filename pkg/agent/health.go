// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/resilience"
)

// HealthChecker caches the result of an expensive check for minInterval.
type HealthChecker struct {
	component   string
	check       func(ctx context.Context) core.HealthResult
	lastCheck   time.Time
	lastResult  core.HealthResult
	minInterval time.Duration
	mu          sync.RWMutex
}

func newHealthChecker(component string, interval time.Duration, check func(ctx context.Context) core.HealthResult) *HealthChecker {
	return &HealthChecker{component: component, check: check, minInterval: interval}
}

// Check implements core.HealthChecker.
func (h *HealthChecker) Check(ctx context.Context) core.HealthResult {
	h.mu.RLock()
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		result := h.lastResult
		h.mu.RUnlock()
		return result
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check after acquiring write lock
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		return h.lastResult
	}

	result := h.check(ctx)
	result.Component = h.component
	result.LastCheck = time.Now()
	h.lastResult = result
	h.lastCheck = result.LastCheck
	return result
}

// NewAgentHealthChecker reports the agent model routing and, when the
// invoker reports health, the capability providers.
func NewAgentHealthChecker(a *Agent) *HealthChecker {
	return newHealthChecker("agent", 5*time.Second, func(ctx context.Context) core.HealthResult {
		if !a.primary.ok() {
			return core.HealthResult{Status: core.HealthUnhealthy, Message: "primary model not configured"}
		}
		if hc, ok := a.invoker.(core.HealthChecker); ok {
			if res := hc.Check(ctx); res.Status != core.HealthHealthy {
				return core.HealthResult{Status: res.Status, Message: "providers: " + res.Message, Error: res.Error}
			}
		}
		if a.auxiliary.ok() && a.breaker.State() == resilience.StateOpen {
			return core.HealthResult{
				Status:  core.HealthDegraded,
				Message: "auxiliary model circuit open, routing to primary",
			}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: "agent operational"}
	})
}

// NewLLMHealthChecker probes a model backend with checkFunc. A nil
// checkFunc always reports healthy.
func NewLLMHealthChecker(name string, checkFunc func(ctx context.Context) error) *HealthChecker {
	return newHealthChecker("llm:"+name, 30*time.Second, func(ctx context.Context) core.HealthResult {
		if checkFunc == nil {
			return core.HealthResult{Status: core.HealthHealthy, Message: "LLM provider available (no health check configured)"}
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := checkFunc(checkCtx); err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Message: err.Error(), Error: err}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: "LLM provider responsive"}
	})
}

// NewCatalogHealthChecker probes capability listing with listFunc.
func NewCatalogHealthChecker(name string, listFunc func(ctx context.Context) (int, error)) *HealthChecker {
	return newHealthChecker("mcp:"+name, 30*time.Second, func(ctx context.Context) core.HealthResult {
		if listFunc == nil {
			return core.HealthResult{Status: core.HealthHealthy, Message: "provider available (no health check configured)"}
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		n, err := listFunc(checkCtx)
		if err != nil {
			return core.HealthResult{
				Status:  core.HealthUnhealthy,
				Message: "capability listing failed: " + err.Error(),
				Error:   err,
			}
		}
		if n == 0 {
			return core.HealthResult{Status: core.HealthDegraded, Message: "provider lists no capabilities"}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: strconv.Itoa(n) + " capabilities"}
	})
}
