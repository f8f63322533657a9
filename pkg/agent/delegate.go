// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// DelegateTool is the meta-capability that hands a self-contained task to a
// nested run. It is offered in general mode to top-level runs only.
const DelegateTool = "delegate_task"

const delegatePrompt = `You are working on a task handed over by another agent, in %s mode.
Discover and call the capabilities you need, then reply with a short report of what you found or did.
Your report is the only thing the other agent will see.`

func delegateDefinition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name: DelegateTool,
			Description: "Hand a self-contained task to a sub-agent with a fresh context and return its report. " +
				"Use explore for read-only lookups, plan to design multi-step work, general for tasks that change state.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{
						"type":        "string",
						"description": "A few words naming the task",
					},
					"prompt": map[string]any{
						"type":        "string",
						"description": "Everything the sub-agent needs to know to complete the task",
					},
					"mode": map[string]any{
						"type": "string",
						"enum": []string{string(core.ModeExplore), string(core.ModePlan), string(core.ModeGeneral)},
					},
				},
				"required": []string{"prompt", "mode"},
			},
		},
	}
}

// delegation is the outcome of a nested run, folded into the parent run
// once the turn settles.
type delegation struct {
	chain    []memory.Call
	failures int
	usage    llm.Usage
	warnings []string
}

// prepareDelegate validates a delegate_task call. It closes p.done when
// the call is rejected.
func prepareDelegate(p *pendingCall) {
	prompt, _ := p.args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		p.finish(errors.CodeInvalidInput, "prompt is required")
		return
	}
	raw, _ := p.args["mode"].(string)
	mode, err := core.ParseMode(raw)
	if err != nil {
		p.finish(errors.CodeInvalidInput, err.Error())
		return
	}
	p.mode = mode
}

// delegate runs p as a nested run with its own session. The nested run
// routes on its mode's tier, is never offered delegate_task and records no
// episode.
func (a *Agent) delegate(ctx context.Context, parent *runState, p *pendingCall) (mcp.CallResult, *delegation) {
	req := mcp.CallRequest{CallID: p.call.ID, Capability: DelegateTool}
	prompt, _ := p.args["prompt"].(string)
	session := a.NewSession(p.mode)
	id := parent.id + "/" + p.call.ID

	ctx = core.WithRunID(ctx, id)
	ctx, span := a.tracer.Start(ctx, "Agent.Delegate")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(id, session.ID(), string(p.mode), a.cfg.MaxIterations)...)

	run := &runState{id: id, session: session, sink: parent.sink, depth: parent.depth + 1}
	run.messages = []llm.Message{
		{Role: llm.RoleSystem, Content: a.cfg.SystemPrompt},
		{Role: llm.RoleSystem, Content: fmt.Sprintf(delegatePrompt, p.mode)},
		{Role: llm.RoleUser, Content: strings.TrimSpace(prompt)},
	}
	run.injected = 2

	a.logger.InfoContext(ctx, "agent.delegate.start",
		slog.String("run_id", parent.id),
		slog.String("sub_run_id", id),
		slog.String("mode", string(p.mode)),
	)
	a.emit(ctx, parent, core.EventDelegation, map[string]any{
		"call_id":    p.call.ID,
		"sub_run_id": id,
		"mode":       string(p.mode),
	})
	start := time.Now()
	status, answer, err := a.loop(ctx, run)
	sub := &delegation{
		chain:    run.chain,
		failures: run.failures,
		usage:    run.usage,
		warnings: run.warnings,
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(status)),
		attribute.Int(telemetry.AttrRunIteration, run.iteration),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.WarnContext(ctx, "agent.delegate.failed",
			slog.String("sub_run_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		code := errors.CodeOf(err)
		if code == "" {
			code = errors.CodeInternal
		}
		res := mcp.FailedResult(req, code, fmt.Sprintf("delegated task ended with status %s: %v", status, err))
		res.Duration = time.Since(start)
		return res, sub
	}
	a.logger.InfoContext(ctx, "agent.delegate.done",
		slog.String("sub_run_id", id),
		slog.Int("iterations", run.iteration),
		slog.Int("calls", len(run.chain)),
	)
	if strings.TrimSpace(answer) == "" {
		answer = "The delegated task finished without a report."
	}
	return mcp.CallResult{CallID: p.call.ID, Capability: DelegateTool, Payload: answer, Duration: time.Since(start)}, sub
}
