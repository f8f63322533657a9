// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry setup, structured logging and the
// span attributes used across the engine.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys follow OpenTelemetry naming conventions where applicable.
const (
	AttrRunID         = "sextant.run.id"
	AttrRunStatus     = "sextant.run.status"
	AttrRunIteration  = "sextant.run.iteration"
	AttrRunMaxIter    = "sextant.run.max_iterations"
	AttrSessionID     = "sextant.session.id"
	AttrSessionMode   = "sextant.session.mode"
	AttrModelTier     = "sextant.model.tier"
	AttrModelFallback = "sextant.model.fallback"

	AttrCapabilityName      = "sextant.capability.name"
	AttrCapabilityRequestID = "sextant.capability.request_id"
	AttrCapabilityCallID    = "sextant.capability.call_id"
	AttrCapabilityOutcome   = "sextant.capability.outcome"
	AttrCapabilityProvider  = "sextant.capability.provider"
	AttrCapabilityArgs      = "sextant.capability.arguments"
	AttrCapabilityResult    = "sextant.capability.result"
	AttrActiveCount         = "sextant.capabilities.active"

	AttrRegistryQuery   = "sextant.registry.query"
	AttrRegistryResults = "sextant.registry.results"
	AttrRegistryCached  = "sextant.registry.cache_hit"

	AttrEpisodeOutcome   = "sextant.episode.outcome"
	AttrEpisodeRetrieved = "sextant.episode.retrieved"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// RunAttributes returns common attributes for run spans.
func RunAttributes(runID, sessionID, mode string, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrSessionMode, mode),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	if maxIter > 0 {
		attrs = append(attrs, attribute.Int(AttrRunMaxIter, maxIter))
	}
	return attrs
}

// CapabilityAttributes returns attributes for an invocation span.
func CapabilityAttributes(name, callID string, requestID int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrCapabilityName, name)}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityCallID, callID))
	}
	if requestID > 0 {
		attrs = append(attrs, attribute.Int64(AttrCapabilityRequestID, requestID))
	}
	return attrs
}

// ArgsResultAttributes returns arguments and result, truncated to maxLen.
func ArgsResultAttributes(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	var attrs []attribute.KeyValue
	if args != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityArgs, Truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityResult, Truncate(result, maxLen)))
	}
	return attrs
}

// LLMAttributes returns attributes for a model call span.
func LLMAttributes(model, tier string, msgCount, toolCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.String(AttrModelTier, tier),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if toolCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCount))
	}
	return attrs
}

// UsageAttributes returns token usage attributes.
func UsageAttributes(input, output int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if input > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, input))
	}
	if output > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, output))
	}
	return attrs
}

// Truncate shortens s to at most n bytes on a rune boundary, appending "...".
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
