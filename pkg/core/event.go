// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by the agent loop.
type EventType string

const (
	EventThinking         EventType = "agent.thinking"
	EventCapabilityCall   EventType = "capability.call"
	EventCapabilityResult EventType = "capability.result"
	EventFinalAnswer      EventType = "agent.final"
	EventError            EventType = "agent.error"
	EventWarning          EventType = "agent.warning"
	EventTokenUsage       EventType = "agent.token_usage"
	EventCompaction       EventType = "agent.compaction"
	EventTaskUpdate       EventType = "agent.tasks"
	EventDelegation       EventType = "agent.delegation"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	SessionID string         `json:"session_id,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, runID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// IsTerminal reports whether the event closes a run.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinalAnswer || e.Type == EventError
}
