// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/resilience"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// turnResponse is one routed model reply.
type turnResponse struct {
	resp *llm.ChatResponse
	tier core.Tier
	// warning is set when the auxiliary model was skipped.
	warning string
}

// route sends req to the model serving tier. An unreachable auxiliary model
// degrades to the primary one for this turn only.
func (a *Agent) route(ctx context.Context, tier core.Tier, req llm.ChatRequest) (turnResponse, error) {
	if tier != core.TierAuxiliary || !a.auxiliary.ok() {
		resp, err := a.chat(ctx, a.primary, core.TierPrimary, req)
		return turnResponse{resp: resp, tier: core.TierPrimary}, err
	}

	out := turnResponse{tier: core.TierAuxiliary}
	resp, err := resilience.WithFallback(ctx,
		func(ctx context.Context) (*llm.ChatResponse, error) {
			var resp *llm.ChatResponse
			err := a.breaker.Call(ctx, func(ctx context.Context) error {
				var err error
				resp, err = a.chat(ctx, a.auxiliary, core.TierAuxiliary, req)
				return err
			})
			return resp, err
		},
		func(ctx context.Context, auxErr error) (*llm.ChatResponse, error) {
			out.tier = core.TierPrimary
			out.warning = fmt.Sprintf("auxiliary model %s unavailable, used primary model %s: %v",
				a.auxiliary.Name, a.primary.Name, auxErr)
			a.metrics.RecordFallback(ctx, string(core.TierAuxiliary), string(core.TierPrimary))
			a.logger.WarnContext(ctx, "agent.model.fallback",
				slog.String("from", a.auxiliary.Name),
				slog.String("to", a.primary.Name),
				slog.String("error", auxErr.Error()),
			)
			return a.chat(ctx, a.primary, core.TierPrimary, req)
		},
		func(err error) bool {
			return resilience.IsOpenError(err) || llm.IsUnavailable(err)
		},
	)
	out.resp = resp
	return out, err
}

func (a *Agent) chat(ctx context.Context, m Model, tier core.Tier, req llm.ChatRequest) (*llm.ChatResponse, error) {
	req.Model = m.Name
	ctx, span := a.tracer.Start(ctx, "Agent.Model")
	defer span.End()
	span.SetAttributes(telemetry.LLMAttributes(m.Name, string(tier), len(req.Messages), len(req.Tools))...)
	a.metrics.RecordModelCall(ctx, m.Name, string(tier))

	resp, err := m.Provider.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, WrapLLMError(err, m.Name)
	}
	if resp == nil {
		resp = &llm.ChatResponse{}
	}
	span.SetAttributes(telemetry.UsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetAttributes(attribute.Int(telemetry.AttrLLMToolCalls, len(resp.ToolCalls)))
	return resp, nil
}
