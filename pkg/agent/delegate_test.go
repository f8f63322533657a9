// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
)

func TestRunDelegatesTaskToNestedRun(t *testing.T) {
	primary := llm.NewScriptedProvider(
		llm.Calls(llm.Call("d1", DelegateTool, map[string]any{
			"description": "stock lookup",
			"prompt":      "how many units of part X are at warehouse A?",
			"mode":        "explore",
		})),
		llm.Reply("Part X has 12 units at warehouse A."),
	)
	aux := llm.NewScriptedProvider(
		llm.Calls(llm.Call("s1", DiscoveryTool, map[string]any{"query": "select:inventory_check_stock"})),
		llm.Calls(llm.Call("c1", "inventory_check_stock", map[string]any{"part": "X", "warehouse": "A"})),
		llm.Reply("12 units of X at A"),
	)
	h := newHarness(t, primary, WithAuxiliary(aux, "small"))

	res, err := h.agent.Run(context.Background(), RunInput{Message: "check stock for part X at warehouse A"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Part X has 12 units at warehouse A.", res.Answer)

	tools := toolMessages(res.History)
	require.Len(t, tools, 1)
	assert.Equal(t, "d1", tools[0].ToolCallID)
	assert.Equal(t, "12 units of X at A", tools[0].Content)

	assert.Equal(t, []string{DiscoveryTool, TaskTool, DelegateTool}, toolNames(primary.Requests()[0].Tools))

	// The nested run routes on the explore tier and starts from a clean context.
	subReqs := aux.Requests()
	require.Len(t, subReqs, 3)
	assert.Equal(t, "small", subReqs[0].Model)
	assert.Equal(t, []string{DiscoveryTool}, toolNames(subReqs[0].Tools))
	first := subReqs[0].Messages
	require.Len(t, first, 3)
	assert.Contains(t, first[1].Content, "explore mode")
	assert.Equal(t, "how many units of part X are at warehouse A?", first[2].Content)

	assert.Equal(t, []string{"inventory_check_stock"}, res.Episode.ChainNames())
	assert.Zero(t, res.Failures)
	assert.Equal(t, 5*20, res.Usage.TotalTokens)
	assert.False(t, res.Session.IsActive("inventory_check_stock"), "sub-run selections stay in the sub-run session")
	assert.Equal(t, 1, h.store.Len())

	var subEvents int
	for _, e := range h.events.Events() {
		if e.RunID == res.RunID+"/d1" {
			subEvents++
			assert.NotEqual(t, res.SessionID, e.SessionID)
		}
	}
	assert.NotZero(t, subEvents)
	assert.Contains(t, h.events.Types(), core.EventDelegation)
}

func TestRunDelegateNotOfferedInsideNestedRun(t *testing.T) {
	primary := llm.NewScriptedProvider(
		llm.Calls(llm.Call("d1", DelegateTool, map[string]any{"prompt": "look around", "mode": "general"})),
		llm.Calls(llm.Call("d2", DelegateTool, map[string]any{"prompt": "look deeper", "mode": "general"})),
		llm.Reply("nothing to report"),
		llm.Reply("done"),
	)
	h := newHarness(t, primary)

	res, err := h.agent.Run(context.Background(), RunInput{Message: "look around"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer)

	reqs := primary.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, []string{DiscoveryTool, TaskTool}, toolNames(reqs[1].Tools))
	nested := reqs[2].Messages
	assert.Contains(t, nested[len(nested)-1].Content, string(errors.CodeUnknownCapability))
	assert.Equal(t, "nothing to report", toolMessages(res.History)[0].Content)
	assert.Equal(t, 1, res.Failures)
}

func TestRunDelegateFailuresFoldAsToolResults(t *testing.T) {
	primary := llm.NewScriptedProvider(
		llm.Calls(
			llm.Call("d1", DelegateTool, map[string]any{"prompt": "look around", "mode": "sideways"}),
			llm.Call("d2", DelegateTool, map[string]any{"mode": "plan"}),
		),
		llm.Calls(llm.Call("d3", DelegateTool, map[string]any{"prompt": "plan the order", "mode": "plan"})),
		llm.Fail(stderrors.New("invalid api key")),
		llm.Reply("could not plan"),
	)
	h := newHarness(t, primary)

	res, err := h.agent.Run(context.Background(), RunInput{Message: "plan an order"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	tools := toolMessages(res.History)
	require.Len(t, tools, 3)
	assert.Contains(t, tools[0].Content, string(errors.CodeInvalidInput))
	assert.Contains(t, tools[0].Content, "sideways")
	assert.Contains(t, tools[1].Content, "prompt is required")
	assert.Contains(t, tools[2].Content, string(errors.CodeLLMError))
	assert.Contains(t, tools[2].Content, "status failed")
	assert.Equal(t, 3, res.Failures)
	assert.Equal(t, 1, h.store.Len())
}

func TestRunDelegateNotOfferedOutsideGeneralMode(t *testing.T) {
	primary := llm.NewScriptedProvider(
		llm.Calls(llm.Call("d1", DelegateTool, map[string]any{"prompt": "look around", "mode": "explore"})),
		llm.Reply("ok"),
	)
	h := newHarness(t, primary)

	res, err := h.agent.Run(context.Background(), RunInput{Message: "plan", Mode: core.ModePlan})
	require.NoError(t, err)
	assert.Equal(t, []string{DiscoveryTool, TaskTool}, toolNames(primary.Requests()[0].Tools))
	assert.Contains(t, toolMessages(res.History)[0].Content, string(errors.CodeUnknownCapability))
	assert.Equal(t, 2, primary.CallCount())
}
