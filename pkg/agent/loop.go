// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusBudgetExceeded Status = "budget_exceeded"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// RunInput is one user turn.
type RunInput struct {
	Message string
	// History is the transcript of previous turns, usually Result.History.
	History []llm.Message
	// Mode switches the session mode before the turn when set.
	Mode core.Mode
	// Session carries capability state across turns. A new session is
	// created when nil.
	Session *core.SessionState
}

// Result is the outcome of a run. It is returned for every terminal state
// so callers always get the partial transcript.
type Result struct {
	RunID     string
	SessionID string
	Session   *core.SessionState
	Status    Status
	Answer    string
	// History is the transcript to pass to the next turn.
	History    []llm.Message
	Warnings   []string
	Iterations int
	Usage      llm.Usage
	// Chain lists the successful capability calls in issue order.
	Chain    []memory.Call
	Failures int
	Episode  memory.Episode
}

// RunOutcome is delivered once a streamed run finishes.
type RunOutcome struct {
	Result *Result
	Err    error
}

// runState is owned by a single run.
type runState struct {
	id        string
	session   *core.SessionState
	messages  []llm.Message
	injected  int
	iteration int
	usage     llm.Usage
	warnings  []string
	chain     []memory.Call
	failures  int
	sink      chan<- core.Event
	// depth is 0 for a top-level run and 1 inside a delegated task.
	depth int
}

// Run processes one user message until the model answers, the iteration
// budget runs out, the caller cancels or an unrecoverable error occurs. The
// returned Result is non-nil whenever the input was valid, including when
// err is a *errors.SextantError with CodeBudgetExceeded or CodeCancelled.
func (a *Agent) Run(ctx context.Context, in RunInput) (*Result, error) {
	return a.run(ctx, in, nil)
}

// Stream runs like Run and delivers events on the first channel in emission
// order. The event channel is closed when the run ends, then the outcome is
// sent on the second channel. Consumers must drain the event channel.
func (a *Agent) Stream(ctx context.Context, in RunInput) (<-chan core.Event, <-chan RunOutcome) {
	events := make(chan core.Event, 64)
	done := make(chan RunOutcome, 1)
	go func() {
		res, err := a.run(ctx, in, events)
		close(events)
		done <- RunOutcome{Result: res, Err: err}
		close(done)
	}()
	return events, done
}

func (a *Agent) run(ctx context.Context, in RunInput, sink chan<- core.Event) (*Result, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, NewInvalidInputError("message is required")
	}
	session := in.Session
	if session == nil {
		session = a.NewSession(in.Mode)
	} else if in.Mode != "" {
		prev := session.Mode()
		if session.SetMode(in.Mode) {
			a.logger.InfoContext(ctx, "agent.mode.changed",
				slog.String("session_id", session.ID()),
				slog.String("from", string(prev)),
				slog.String("to", string(in.Mode)),
			)
		}
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := a.tracer.Start(ctx, "Agent.Run")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(runID, session.ID(), string(session.Mode()), a.cfg.MaxIterations)...)

	run := &runState{id: runID, session: session, sink: sink}
	a.logger.InfoContext(ctx, "agent.run.start",
		slog.String("run_id", runID),
		slog.String("session_id", session.ID()),
		slog.String("mode", string(session.Mode())),
	)

	run.messages = append(run.messages, llm.Message{Role: llm.RoleSystem, Content: a.cfg.SystemPrompt})
	run.injected = 1
	if hint := a.recall(ctx, span, in.Message); hint != "" {
		run.messages = append(run.messages, llm.Message{Role: llm.RoleSystem, Content: hint})
		run.injected++
	}
	run.messages = append(run.messages, in.History...)
	run.messages = append(run.messages, llm.Message{Role: llm.RoleUser, Content: in.Message})

	status, answer, err := a.loop(ctx, run)

	res := &Result{
		RunID:      runID,
		SessionID:  session.ID(),
		Session:    session,
		Status:     status,
		Answer:     answer,
		History:    append([]llm.Message(nil), run.messages[run.injected:]...),
		Warnings:   run.warnings,
		Iterations: run.iteration,
		Usage:      run.usage,
		Chain:      run.chain,
		Failures:   run.failures,
	}
	res.Episode = a.learn(ctx, in.Message, res, err)
	a.metrics.RecordRun(ctx, string(status), run.iteration)

	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(status)),
		attribute.Int(telemetry.AttrRunIteration, run.iteration),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordError(ctx, err, "agent")
		a.logger.WarnContext(ctx, "agent.run.failed",
			slog.String("run_id", runID),
			slog.String("status", string(status)),
			slog.Int("iterations", run.iteration),
			slog.String("error", err.Error()),
		)
		a.emit(ctx, run, core.EventError, map[string]any{
			"status": string(status),
			"code":   string(errors.CodeOf(err)),
			"error":  err.Error(),
		})
		return res, err
	}
	a.logger.InfoContext(ctx, "agent.run.complete",
		slog.String("run_id", runID),
		slog.Int("iterations", run.iteration),
		slog.Int("calls", len(run.chain)),
	)
	a.emit(ctx, run, core.EventFinalAnswer, map[string]any{
		"status": string(status),
		"answer": answer,
	})
	return res, nil
}

func (a *Agent) loop(ctx context.Context, run *runState) (Status, string, error) {
	for i := 1; i <= a.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return StatusCancelled, "", NewCancelledError(err)
		}
		run.iteration = i
		a.compact(ctx, run)

		spec := run.session.ModeSpec()
		tools := a.toolset(ctx, run)
		a.emit(ctx, run, core.EventThinking, map[string]any{
			"mode":  string(run.session.Mode()),
			"tier":  string(spec.Tier),
			"tools": len(tools),
		})

		iterCtx, span := a.tracer.Start(ctx, "Agent.Iteration")
		span.SetAttributes(
			attribute.Int(telemetry.AttrRunIteration, i),
			attribute.Int(telemetry.AttrActiveCount, len(run.session.Active())),
		)
		turn, err := a.route(iterCtx, spec.Tier, llm.ChatRequest{
			Messages:    run.messages,
			Tools:       tools,
			Temperature: a.cfg.Temperature,
		})
		if err != nil {
			span.RecordError(err)
			span.End()
			if isCancellation(ctx, err) || ctx.Err() != nil {
				return StatusCancelled, "", NewCancelledError(err)
			}
			return StatusFailed, "", err
		}
		span.SetAttributes(attribute.String(telemetry.AttrModelTier, string(turn.tier)))
		if turn.warning != "" {
			span.SetAttributes(attribute.Bool(telemetry.AttrModelFallback, true))
			run.warnings = append(run.warnings, turn.warning)
			a.emit(ctx, run, core.EventWarning, map[string]any{"message": turn.warning})
		}

		resp := turn.resp
		run.usage.Add(resp.Usage)
		a.emit(ctx, run, core.EventTokenUsage, map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      run.usage.TotalTokens,
		})

		calls := normalizeCalls(resp.ToolCalls, i)
		run.messages = append(run.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})
		if len(calls) == 0 {
			span.End()
			return StatusSuccess, resp.Content, nil
		}

		for _, p := range a.dispatch(iterCtx, run, calls) {
			run.messages = append(run.messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    p.content,
				ToolCallID: p.call.ID,
			})
		}
		if note := a.reminder(run.messages, run.session); note != "" {
			run.messages[len(run.messages)-1].Content += note
		}
		span.End()
	}
	if err := ctx.Err(); err != nil {
		return StatusCancelled, "", NewCancelledError(err)
	}
	return StatusBudgetExceeded, "", NewBudgetExceededError(a.cfg.MaxIterations)
}

// toolset returns the meta-capabilities offered to run followed by the
// active capabilities.
func (a *Agent) toolset(ctx context.Context, run *runState) []llm.Tool {
	session := run.session
	active := session.Active()
	tools := make([]llm.Tool, 0, len(active)+3)
	tools = append(tools, discoveryDefinition())
	if a.offers(run, TaskTool) {
		tools = append(tools, taskDefinition())
	}
	if a.offers(run, DelegateTool) {
		tools = append(tools, delegateDefinition())
	}
	for _, name := range active {
		d, err := a.catalog.Select(ctx, session, name)
		if err != nil {
			a.logger.WarnContext(ctx, "agent.toolset.skip",
				slog.String("capability", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		tools = append(tools, d.ToolDefinition())
	}
	return tools
}

// offers reports whether a meta-capability other than discovery is offered
// to run. Explore mode gets discovery only, and delegation is limited to
// top-level runs in general mode.
func (a *Agent) offers(run *runState, name string) bool {
	mode := run.session.Mode()
	switch name {
	case TaskTool:
		return mode != core.ModeExplore
	case DelegateTool:
		return mode == core.ModeGeneral && run.depth == 0
	default:
		return false
	}
}

// recall renders past episodes for message as a prompt hint.
func (a *Agent) recall(ctx context.Context, span trace.Span, message string) string {
	if a.episodes == nil {
		return ""
	}
	found := a.episodes.Retrieve(ctx, message, a.cfg.EpisodeTopK)
	span.SetAttributes(attribute.Int(telemetry.AttrEpisodeRetrieved, len(found)))
	if len(found) > 0 {
		a.logger.DebugContext(ctx, "agent.memory.recall", slog.Int("episodes", len(found)))
	}
	return memory.FormatForPrompt(found)
}

// learn records the run as exactly one episode.
func (a *Agent) learn(ctx context.Context, message string, res *Result, runErr error) memory.Episode {
	e := memory.Episode{
		Signature: message,
		Chain:     res.Chain,
		Outcome:   outcomeOf(res),
		Summary:   telemetry.Truncate(res.Answer, 200),
		Warnings:  res.Warnings,
		Metadata: map[string]string{
			"run_id":     res.RunID,
			"session_id": res.SessionID,
			"mode":       string(res.Session.Mode()),
			"status":     string(res.Status),
			"iterations": strconv.Itoa(res.Iterations),
		},
	}
	if runErr != nil {
		e.Summary = telemetry.Truncate(runErr.Error(), 200)
	}
	if a.episodes == nil {
		return e
	}
	// A cancelled run is still recorded.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.episodes.Record(wctx, e); err != nil {
		werr := WrapMemoryError(err, "record")
		a.metrics.RecordError(ctx, werr, "agent.memory")
		a.logger.WarnContext(ctx, "agent.episode.record_failed",
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
	}
	return e
}

func outcomeOf(res *Result) memory.Outcome {
	switch res.Status {
	case StatusSuccess:
		if res.Failures > 0 {
			return memory.OutcomePartialFailure
		}
		return memory.OutcomeSuccess
	case StatusCancelled:
		return memory.OutcomeCancelled
	default:
		return memory.OutcomeFailure
	}
}

// emit stamps and delivers an event to the emitter and the stream, if any.
func (a *Agent) emit(ctx context.Context, run *runState, t core.EventType, payload map[string]any) {
	e := core.NewEvent(t, run.id, payload)
	e.SessionID = run.session.ID()
	e.Iteration = run.iteration
	a.emitter.Emit(ctx, e)
	if run.sink == nil {
		return
	}
	select {
	case run.sink <- e:
	case <-ctx.Done():
		select {
		case run.sink <- e:
		default:
		}
	}
}
