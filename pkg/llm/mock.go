// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// Step is one scripted model turn.
type Step struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
	// Delay blocks the turn, honoring cancellation.
	Delay time.Duration
}

// Reply scripts a final text answer.
func Reply(content string) Step { return Step{Content: content} }

// Calls scripts a turn that requests tool calls.
func Calls(calls ...ToolCall) Step { return Step{ToolCalls: calls} }

// Fail scripts a failing turn.
func Fail(err error) Step { return Step{Err: err} }

// Call builds a tool call with JSON-encoded arguments.
func Call(id, name string, args map[string]any) ToolCall {
	raw := "{}"
	if args != nil {
		if b, err := json.Marshal(args); err == nil {
			raw = string(b)
		}
	}
	return ToolCall{ID: id, Type: ToolTypeFunction, Function: FunctionCall{Name: name, Arguments: raw}}
}

// ScriptedProvider replays a fixed sequence of turns and records every
// request it receives.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []ChatRequest
	// Repeat, when set, is returned once the script is exhausted.
	Repeat *Step
}

// NewScriptedProvider creates a provider that plays steps in order.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Chat implements Provider.
func (s *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	var step Step
	switch {
	case len(s.steps) > 0:
		step = s.steps[0]
		s.steps = s.steps[1:]
	case s.Repeat != nil:
		step = *s.Repeat
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted provider: no more steps (call %d)", len(s.requests))
	}
	s.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &ChatResponse{
		Content:   step.Content,
		ToolCalls: step.ToolCalls,
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// Add appends steps to the script.
func (s *ScriptedProvider) Add(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Requests returns a copy of the recorded requests.
func (s *ScriptedProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// CallCount returns how many times Chat was called.
func (s *ScriptedProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Remaining returns the number of unplayed steps.
func (s *ScriptedProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(req ChatRequest) ChatRequest {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]Tool(nil), req.Tools...)
	return req
}
