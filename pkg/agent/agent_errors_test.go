// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/resilience"
)

func TestWrapLLMError(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantRecoverable bool
	}{
		{name: "nil error"},
		{name: "rejected request", err: stderrors.New("bad request")},
		{name: "unavailable backend", err: llm.Unavailable("ollama", stderrors.New("connection refused")), wantRecoverable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := WrapLLMError(tt.err, "gpt-4o")
			if tt.err == nil {
				if se != nil {
					t.Errorf("WrapLLMError() = %v, want nil", se)
				}
				return
			}
			if se.Code != errors.CodeLLMError {
				t.Errorf("WrapLLMError().Code = %v, want %v", se.Code, errors.CodeLLMError)
			}
			if se.Context["model"] != "gpt-4o" {
				t.Errorf("WrapLLMError().Context[model] = %v", se.Context["model"])
			}
			if se.Recoverable != tt.wantRecoverable {
				t.Errorf("WrapLLMError().Recoverable = %v, want %v", se.Recoverable, tt.wantRecoverable)
			}
		})
	}
}

func TestWrapToolError(t *testing.T) {
	if WrapToolError(nil, "orders_get", "c1") != nil {
		t.Fatal("expected nil for nil error")
	}
	se := WrapToolError(errors.New(errors.CodeTimeout, "slow", nil), "orders_get", "c1")
	if se.Code != errors.CodeToolFailure {
		t.Errorf("Code = %v, want %v", se.Code, errors.CodeToolFailure)
	}
	if se.Context["capability"] != "orders_get" || se.Context["call_id"] != "c1" {
		t.Errorf("unexpected context %v", se.Context)
	}
	if !errors.HasCode(se, errors.CodeTimeout) {
		t.Error("expected the cause code to stay in the chain")
	}
}

func TestWrapMemoryError(t *testing.T) {
	if WrapMemoryError(nil, "record") != nil {
		t.Fatal("expected nil for nil error")
	}
	se := WrapMemoryError(stderrors.New("disk full"), "record")
	if se.Code != errors.CodeMemoryError || se.Context["operation"] != "record" {
		t.Errorf("unexpected error %+v", se)
	}
}

func TestTerminalErrors(t *testing.T) {
	be := NewBudgetExceededError(7)
	if be.Code != errors.CodeBudgetExceeded || be.Context["max_iterations"] != 7 || be.Recoverable {
		t.Errorf("unexpected budget error %+v", be)
	}
	ce := NewCancelledError(nil)
	if ce.Code != errors.CodeCancelled || !stderrors.Is(ce, context.Canceled) {
		t.Errorf("unexpected cancel error %+v", ce)
	}
}

func TestNewInvalidInputError(t *testing.T) {
	se := NewInvalidInputError("test message")
	if se.Code != errors.CodeInvalidInput {
		t.Errorf("Code = %v, want %v", se.Code, errors.CodeInvalidInput)
	}
	if se.Message != "test message" {
		t.Errorf("Message = %v, want %v", se.Message, "test message")
	}
	if se.Recoverable {
		t.Error("Recoverable = true, want false")
	}
}

type healthyInvoker struct {
	status core.HealthStatus
}

func (h healthyInvoker) Invoke(_ context.Context, req mcp.CallRequest, _ time.Duration) mcp.CallResult {
	return mcp.CallResult{Capability: req.Capability}
}

func (h healthyInvoker) Check(context.Context) core.HealthResult {
	return core.HealthResult{Status: h.status, Message: "pool"}
}

func TestAgentHealthChecker(t *testing.T) {
	a := &Agent{
		primary: Model{Provider: &llm.MockProvider{Response: "ok"}, Name: "m"},
		invoker: healthyInvoker{status: core.HealthHealthy},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
	}
	result := NewAgentHealthChecker(a).Check(context.Background())
	if result.Component != "agent" {
		t.Errorf("Component = %v, want agent", result.Component)
	}
	if result.Status != core.HealthHealthy {
		t.Errorf("Status = %v, want %v", result.Status, core.HealthHealthy)
	}
	if result.LastCheck.IsZero() {
		t.Error("LastCheck is zero, want non-zero")
	}
}

func TestAgentHealthCheckerDegraded(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	breaker.Open()
	a := &Agent{
		primary:   Model{Provider: &llm.MockProvider{}, Name: "big"},
		auxiliary: Model{Provider: &llm.MockProvider{}, Name: "small"},
		invoker:   healthyInvoker{status: core.HealthHealthy},
		breaker:   breaker,
	}
	if got := NewAgentHealthChecker(a).Check(context.Background()).Status; got != core.HealthDegraded {
		t.Errorf("Status = %v, want degraded with open auxiliary circuit", got)
	}

	a.invoker = healthyInvoker{status: core.HealthUnhealthy}
	if got := NewAgentHealthChecker(a).Check(context.Background()).Status; got != core.HealthUnhealthy {
		t.Errorf("Status = %v, want unhealthy providers to win", got)
	}
}

func TestAgentHealthCheckerNoModel(t *testing.T) {
	result := NewAgentHealthChecker(&Agent{}).Check(context.Background())
	if result.Status != core.HealthUnhealthy {
		t.Errorf("Status = %v, want %v", result.Status, core.HealthUnhealthy)
	}
	if result.Message != "primary model not configured" {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestLLMHealthChecker(t *testing.T) {
	checker := NewLLMHealthChecker("local", func(context.Context) error {
		return stderrors.New("down")
	})
	if got := checker.Check(context.Background()).Status; got != core.HealthUnhealthy {
		t.Errorf("Status = %v, want %v", got, core.HealthUnhealthy)
	}
	if got := NewLLMHealthChecker("local", nil).Check(context.Background()).Status; got != core.HealthHealthy {
		t.Errorf("Status = %v, want %v", got, core.HealthHealthy)
	}
}

func TestLLMHealthCheckerCacheTTL(t *testing.T) {
	callCount := 0
	checker := NewLLMHealthChecker("local", func(context.Context) error {
		callCount++
		return nil
	})
	checker.minInterval = 100 * time.Millisecond
	ctx := context.Background()

	checker.Check(ctx)
	checker.Check(ctx)
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1 (cached)", callCount)
	}

	time.Sleep(150 * time.Millisecond)
	checker.Check(ctx)
	if callCount != 2 {
		t.Errorf("callCount = %d, want 2 (after cache expire)", callCount)
	}
}

func TestCatalogHealthChecker(t *testing.T) {
	ctx := context.Background()
	res := NewCatalogHealthChecker("erp", func(context.Context) (int, error) { return 12, nil }).Check(ctx)
	if res.Status != core.HealthHealthy || res.Message != "12 capabilities" || res.Component != "mcp:erp" {
		t.Errorf("unexpected result %+v", res)
	}
	empty := NewCatalogHealthChecker("erp", func(context.Context) (int, error) { return 0, nil }).Check(ctx)
	if empty.Status != core.HealthDegraded {
		t.Errorf("Status = %v, want degraded", empty.Status)
	}
	failing := NewCatalogHealthChecker("erp", func(context.Context) (int, error) { return 0, stderrors.New("eof") }).Check(ctx)
	if failing.Status != core.HealthUnhealthy {
		t.Errorf("Status = %v, want unhealthy", failing.Status)
	}
}
