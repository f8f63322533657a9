// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"strings"
	"testing"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/llm"
)

func TestEstimateTokens(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: strings.Repeat("a", 40)},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{llm.Call("c1", "orders_get", map[string]any{"id": "1"})}},
	}
	// 40 chars + "orders_get" (10) + `{"id":"1"}` (10)
	if got := EstimateTokens(msgs); got != 15 {
		t.Fatalf("EstimateTokens = %d, want 15", got)
	}
}

func TestCompactionCutKeepsToolResultsWithTheirCall(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem},
		{Role: llm.RoleUser},
		{Role: llm.RoleAssistant},
		{Role: llm.RoleUser},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: llm.RoleTool, ToolCallID: "a"},
		{Role: llm.RoleTool, ToolCallID: "b"},
		{Role: llm.RoleAssistant},
	}
	start, end, ok := compactionCut(msgs, 1, 2)
	if !ok {
		t.Fatal("expected a cut")
	}
	if start != 1 || end != 4 {
		t.Fatalf("cut = [%d,%d), want [1,4)", start, end)
	}

	if _, _, ok := compactionCut(msgs[:3], 1, 2); ok {
		t.Fatal("expected no cut for a short transcript")
	}
}

func TestCompactionCutResummarizesCarriedSummary(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "system prompt"},
		{Role: llm.RoleSystem, Content: "past episodes"},
		{Role: llm.RoleSystem, Content: summaryPrefix + "earlier turns"},
		{Role: llm.RoleUser},
		{Role: llm.RoleAssistant},
		{Role: llm.RoleUser},
		{Role: llm.RoleAssistant},
	}
	start, end, ok := compactionCut(msgs, 2, 2)
	if !ok {
		t.Fatal("expected a cut")
	}
	if start != 2 || end != 5 {
		t.Fatalf("cut = [%d,%d), want [2,5)", start, end)
	}
}

func TestReminderThreshold(t *testing.T) {
	a := &Agent{cfg: Config{ContextTokens: 100, ReminderThreshold: 0.5}}
	low := []llm.Message{{Content: strings.Repeat("x", 100)}}
	if got := a.reminder(low, nil); got != "" {
		t.Fatalf("expected no reminder, got %q", got)
	}
	high := []llm.Message{{Content: strings.Repeat("x", 240)}}
	got := a.reminder(high, nil)
	if !strings.Contains(got, "<system-reminder>") || !strings.Contains(got, "60%") {
		t.Fatalf("unexpected reminder %q", got)
	}
}

func TestReminderNamesCurrentTask(t *testing.T) {
	a := &Agent{cfg: Config{ContextTokens: 100, ReminderThreshold: 0.5}}
	session := core.NewSessionState(core.ModePlan, nil)
	if err := session.SetTasks([]core.Task{{Content: "reserve parts", Status: core.TaskInProgress}}); err != nil {
		t.Fatal(err)
	}
	high := []llm.Message{{Content: strings.Repeat("x", 240)}}
	if got := a.reminder(high, session); !strings.Contains(got, "Current task: reserve parts") {
		t.Fatalf("unexpected reminder %q", got)
	}
}
