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
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// DependsOnArg names the prior call ids of the same turn a call must wait
// for. It is stripped before the call reaches the provider.
const DependsOnArg = "depends_on"

// pendingCall is one requested call of a turn. Each call owns its slot;
// dispatch reads results only after every worker finished.
type pendingCall struct {
	index   int
	call    llm.ToolCall
	args    map[string]any
	deps    []int
	meta    bool
	invoked bool
	mode    core.Mode
	sub     *delegation
	result  mcp.CallResult
	content string
	done    chan struct{}
}

func (p *pendingCall) name() string { return p.call.Function.Name }

// finish settles a call that never reaches the invoker.
func (p *pendingCall) finish(kind errors.ErrorCode, msg string) {
	p.result = mcp.FailedResult(mcp.CallRequest{CallID: p.call.ID, Capability: p.name()}, kind, msg)
	p.content = p.result.Text()
	close(p.done)
}

// dispatch runs one turn of calls. Discovery and task list calls resolve
// inline in issue order. Concrete and delegated calls run concurrently up to
// the parallelism limit, after their declared dependencies. The returned
// calls are in issue order.
func (a *Agent) dispatch(ctx context.Context, run *runState, calls []llm.ToolCall) []*pendingCall {
	// Capabilities selected during this turn become callable next turn.
	active := make(map[string]struct{})
	for _, name := range run.session.Active() {
		active[name] = struct{}{}
	}

	byID := make(map[string]int, len(calls))
	pending := make([]*pendingCall, len(calls))
	for i, c := range calls {
		p := &pendingCall{index: i, call: c, done: make(chan struct{})}
		pending[i] = p
		a.emit(ctx, run, core.EventCapabilityCall, map[string]any{
			"call_id":    c.ID,
			"capability": c.Function.Name,
			"arguments":  telemetry.Truncate(c.Function.Arguments, 500),
		})

		args, err := c.DecodeArguments()
		if err != nil {
			p.meta = isInline(c.Function.Name)
			p.finish(errors.CodeInvalidInput, "arguments must be a JSON object: "+err.Error())
			byID[c.ID] = i
			continue
		}
		p.args = args

		switch name := c.Function.Name; {
		case name == DiscoveryTool:
			p.meta = true
			p.content = a.discover(ctx, run.session, args)
			close(p.done)
		case name == TaskTool && a.offers(run, name):
			p.meta = true
			p.content = a.updateTasks(ctx, run, args)
			close(p.done)
		case name == DelegateTool && a.offers(run, name):
			p.deps = dependencies(args, byID)
			prepareDelegate(p)
		default:
			p.deps = dependencies(args, byID)
			a.prepare(ctx, run, p, active)
		}
		byID[c.ID] = i
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Parallelism)
	for _, p := range pending {
		if p.meta || isClosed(p.done) {
			continue
		}
		g.Go(func() error {
			defer close(p.done)
			for _, d := range p.deps {
				select {
				case <-pending[d].done:
				case <-ctx.Done():
					p.result = mcp.FailedResult(mcp.CallRequest{CallID: p.call.ID, Capability: p.name()},
						errors.CodeCancelled, "cancelled while waiting for "+pending[d].call.ID)
					p.content = p.result.Text()
					return nil
				}
			}
			p.invoked = true
			if p.mode != "" {
				p.result, p.sub = a.delegate(ctx, run, p)
			} else {
				p.result = a.invoke(ctx, run, p)
			}
			p.content = p.result.Text()
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range pending {
		payload := map[string]any{
			"call_id":    p.call.ID,
			"capability": p.name(),
			"result":     telemetry.Truncate(p.content, 500),
		}
		if !p.meta {
			payload["outcome"] = p.result.Outcome()
			payload["duration_ms"] = p.result.Duration.Milliseconds()
			if p.sub != nil {
				run.chain = append(run.chain, p.sub.chain...)
				run.failures += p.sub.failures
				run.usage.Add(p.sub.usage)
				run.warnings = append(run.warnings, p.sub.warnings...)
			}
			switch {
			case !p.result.OK():
				run.failures++
			case p.sub == nil:
				run.chain = append(run.chain, memory.NewCall(p.name(), p.args))
			}
		}
		a.emit(ctx, run, core.EventCapabilityResult, payload)
	}
	return pending
}

// prepare rejects calls that must not reach the provider. It closes p.done
// when the call is settled without invocation.
func (a *Agent) prepare(ctx context.Context, run *runState, p *pendingCall, active map[string]struct{}) {
	name := p.name()
	if _, ok := active[name]; !ok {
		if _, known := a.catalog.Lookup(name); !known {
			p.finish(errors.CodeUnknownCapability, fmt.Sprintf("unknown capability %q; search with %s", name, DiscoveryTool))
			return
		}
		p.finish(errors.CodeUnknownCapability, fmt.Sprintf(
			"capability %q is not loaded in %s mode; load it with %s using select:%s first",
			name, run.session.Mode(), DiscoveryTool, name))
		return
	}
	d, err := a.catalog.Select(ctx, run.session, name)
	if err != nil {
		p.finish(errors.CodeUnknownCapability, err.Error())
		return
	}
	if err := d.ValidateArgs(p.args); err != nil {
		p.finish(errors.CodeInvalidInput, errors.AsSextantError(err).Message)
	}
}

func (a *Agent) invoke(ctx context.Context, run *runState, p *pendingCall) mcp.CallResult {
	name := p.name()
	ctx, span := a.tracer.Start(ctx, "Capability.Invoke")
	defer span.End()

	start := time.Now()
	res := a.invoker.Invoke(ctx, mcp.CallRequest{
		CallID:     p.call.ID,
		Capability: name,
		Arguments:  p.args,
	}, a.cfg.CallTimeout)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	span.SetAttributes(telemetry.CapabilityAttributes(name, p.call.ID, res.RequestID)...)
	span.SetAttributes(attribute.String(telemetry.AttrCapabilityOutcome, res.Outcome()))
	a.metrics.RecordInvocation(ctx, name, res.Outcome(), res.Duration)
	if !res.OK() {
		err := WrapToolError(res.Err(), name, p.call.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Failure.Message)
		a.metrics.RecordError(ctx, err, "agent.dispatch")
		a.logger.WarnContext(ctx, "agent.capability.failed",
			slog.String("run_id", run.id),
			slog.String("capability", name),
			slog.String("call_id", p.call.ID),
			slog.String("kind", string(res.Failure.Kind)),
			slog.String("error", res.Failure.Message),
		)
		return res
	}
	a.logger.DebugContext(ctx, "agent.capability.done",
		slog.String("run_id", run.id),
		slog.String("capability", name),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// dependencies resolves the depends_on argument against call ids issued
// earlier in the same turn. Unknown ids are ignored.
func dependencies(args map[string]any, byID map[string]int) []int {
	raw, ok := args[DependsOnArg]
	if !ok {
		return nil
	}
	delete(args, DependsOnArg)

	var ids []string
	switch v := raw.(type) {
	case string:
		for _, id := range strings.Split(v, ",") {
			ids = append(ids, strings.TrimSpace(id))
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, strings.TrimSpace(s))
			}
		}
	}

	var deps []int
	seen := make(map[int]struct{})
	for _, id := range ids {
		idx, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		deps = append(deps, idx)
	}
	return deps
}

// normalizeCalls gives every call a unique id within the turn.
func normalizeCalls(calls []llm.ToolCall, iteration int) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for i, c := range calls {
		if c.Type == "" {
			c.Type = llm.ToolTypeFunction
		}
		if _, dup := seen[c.ID]; c.ID == "" || dup {
			c.ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		seen[c.ID] = struct{}{}
		out[i] = c
	}
	return out
}

// isInline reports whether name is a meta-capability answered without a
// worker.
func isInline(name string) bool {
	return name == DiscoveryTool || name == TaskTool
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
