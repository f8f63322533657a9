// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/registry"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// DiscoveryTool is the meta-capability the model uses to find and load
// capabilities.
const DiscoveryTool = "discover_capabilities"

const maxSearchLimit = 20

// discoveryDefinition is always offered to the model.
func discoveryDefinition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name: DiscoveryTool,
			Description: "Find capabilities by keywords, or load one by name with \"select:<name>\". " +
				"Only loaded capabilities can be called.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Keywords describing the task, or select:<name> to load a capability",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results for keyword searches",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// discover resolves one discovery request. It never touches the invoker.
// Selected capabilities join the active set, which the next model turn sees.
func (a *Agent) discover(ctx context.Context, session *core.SessionState, args map[string]any) string {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "Error (INVALID_INPUT): query is required. Use keywords or select:<name>."
	}
	if name, ok := registry.SelectName(query); ok {
		return a.selectCapability(ctx, session, name)
	}

	limit := a.cfg.SearchLimit
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	spec := session.ModeSpec()
	found := a.catalog.Search(query, limit, a.modes.Predicate(ctx, spec))
	a.logger.DebugContext(ctx, "agent.discovery.search",
		slog.String("query", query),
		slog.Int("results", len(found)),
	)
	if len(found) == 0 {
		return fmt.Sprintf("No capabilities match %q in %s mode. Try different keywords.", query, session.Mode())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d capabilities for %q:\n", len(found), query)
	for _, d := range found {
		marker := ""
		if d.MutatesState {
			marker = "!"
		}
		loaded := ""
		if session.IsActive(d.Name) {
			loaded = " [loaded]"
		}
		fmt.Fprintf(&b, "- %s%s: %s%s\n", d.Name, marker, d.Summary, loaded)
	}
	b.WriteString("Load one with select:<name> before calling it.")
	return b.String()
}

func (a *Agent) selectCapability(ctx context.Context, session *core.SessionState, name string) string {
	if name == "" {
		return "Error (INVALID_INPUT): select: needs a capability name."
	}
	d, ok := a.catalog.Lookup(name)
	if !ok {
		return fmt.Sprintf("Error (%s): capability %q does not exist. Search by keywords first.",
			errors.CodeUnknownCapability, name)
	}
	if dec := a.modes.Check(ctx, session.ModeSpec(), d); !dec.IsAllowed() {
		return fmt.Sprintf("Error (%s): capability %q is not available in %s mode: %s",
			errors.CodeUnknownCapability, name, session.Mode(), dec.Reason)
	}
	if session.IsActive(name) {
		return fmt.Sprintf("%s is already loaded and can be called.", name)
	}

	ctx, span := a.tracer.Start(ctx, "Agent.Discover")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrCapabilityName, name))

	d, err := a.catalog.Select(ctx, session, name)
	if err != nil {
		a.metrics.RecordError(ctx, err, "agent.discovery")
		a.logger.WarnContext(ctx, "agent.discovery.select_failed",
			slog.String("capability", name),
			slog.String("error", err.Error()),
		)
		code := errors.CodeOf(err)
		if code == "" {
			code = errors.CodeProtocol
		}
		return fmt.Sprintf("Error (%s): could not load %q: %v", code, name, err)
	}
	session.Activate(name)

	var b strings.Builder
	fmt.Fprintf(&b, "Loaded %s", d.Name)
	if d.MutatesState {
		b.WriteString(" (changes remote state)")
	}
	fmt.Fprintf(&b, "\nDescription: %s\nParameters: %s", d.Summary, string(d.Schema))
	if rules := a.catalog.Knowledge(name); rules != "" {
		b.WriteString("\n")
		b.WriteString(rules)
	}
	return b.String()
}
