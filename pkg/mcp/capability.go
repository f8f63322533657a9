// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
)

// Descriptor describes a remote capability. Schema is nil until loaded.
type Descriptor struct {
	Name         string          `json:"name" yaml:"name"`
	Summary      string          `json:"summary" yaml:"summary"`
	Category     string          `json:"category,omitempty" yaml:"category"`
	MutatesState bool            `json:"mutates_state,omitempty" yaml:"mutates"`
	Provider     string          `json:"provider,omitempty" yaml:"provider"`
	Schema       json.RawMessage `json:"schema,omitempty" yaml:"-"`
}

// HasSchema reports whether the full parameter schema is present.
func (d Descriptor) HasSchema() bool { return len(d.Schema) > 0 }

// Summarized returns a copy without the schema.
func (d Descriptor) Summarized() Descriptor {
	d.Schema = nil
	return d
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolDefinition converts the descriptor into a model-facing function tool.
func (d Descriptor) ToolDefinition() llm.Tool {
	params := d.Schema
	if len(params) == 0 {
		params = emptyObjectSchema
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Summary,
			Parameters:  params,
		},
	}
}

// RequiredArgs returns the "required" list of an object schema.
func (d Descriptor) RequiredArgs() []string {
	if !d.HasSchema() {
		return nil
	}
	var s struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(d.Schema, &s); err != nil {
		return nil
	}
	if s.Type != "" && s.Type != "object" {
		return nil
	}
	return s.Required
}

// ValidateArgs checks that every required argument is present.
func (d Descriptor) ValidateArgs(args map[string]any) error {
	for _, key := range d.RequiredArgs() {
		if _, ok := args[key]; !ok {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("missing required argument %q", key), nil).
				WithContext("capability", d.Name)
		}
	}
	return nil
}

// DescriptorFromTool builds a descriptor from an MCP tool definition.
// rawSchema, when non-empty, is kept verbatim as the schema.
func DescriptorFromTool(tool mcpgo.Tool, rawSchema json.RawMessage) Descriptor {
	d := Descriptor{
		Name:         tool.Name,
		Summary:      summarize(tool.Description),
		Category:     CategoryOf(tool.Name),
		MutatesState: mutates(tool.Annotations),
	}
	switch {
	case len(rawSchema) > 0 && string(rawSchema) != "null":
		d.Schema = append(json.RawMessage(nil), rawSchema...)
	case tool.RawInputSchema != nil:
		d.Schema = append(json.RawMessage(nil), tool.RawInputSchema...)
	default:
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			d.Schema = raw
		}
	}
	return d
}

// CategoryOf derives a category from a capability name prefix, e.g.
// "inventory_check_stock" -> "inventory".
func CategoryOf(name string) string {
	if i := strings.IndexAny(name, "_.-/:"); i > 0 {
		return strings.ToLower(name[:i])
	}
	return strings.ToLower(name)
}

func mutates(a mcpgo.ToolAnnotation) bool {
	if a.DestructiveHint != nil && *a.DestructiveHint {
		return true
	}
	if a.ReadOnlyHint != nil {
		return !*a.ReadOnlyHint
	}
	return false
}

func summarize(description string) string {
	s := strings.TrimSpace(description)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const max = 200
	if len(s) > max {
		s = strings.TrimSpace(s[:max]) + "..."
	}
	return s
}

// CallRequest is a capability invocation. CallID is an optional caller
// correlation id echoed in the result; the wire request id is allocated by
// the session.
type CallRequest struct {
	CallID     string
	Capability string
	Arguments  map[string]any
}

// Failure describes why a call did not succeed.
type Failure struct {
	Kind    errors.ErrorCode `json:"kind"`
	Message string           `json:"message"`
}

// CallResult is the single outcome of a CallRequest.
type CallResult struct {
	RequestID  int64
	CallID     string
	Capability string
	// Payload is the textual result folded into the conversation.
	Payload string
	// Structured carries structured content when the provider sent it.
	Structured any
	Failure    *Failure
	Duration   time.Duration
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool { return r.Failure == nil }

// Outcome returns "success" or the lowercase failure kind.
func (r CallResult) Outcome() string {
	if r.Failure == nil {
		return "success"
	}
	return strings.ToLower(string(r.Failure.Kind))
}

// Err returns the failure as a typed error, or nil.
func (r CallResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return errors.New(r.Failure.Kind, r.Failure.Message, nil).
		WithContext("capability", r.Capability).
		WithContext("request_id", r.RequestID)
}

// Text renders the result as it is shown to the model.
func (r CallResult) Text() string {
	if r.Failure == nil {
		return r.Payload
	}
	return fmt.Sprintf("Error (%s): %s", r.Failure.Kind, r.Failure.Message)
}

func failed(req CallRequest, id int64, kind errors.ErrorCode, msg string) CallResult {
	return CallResult{
		RequestID:  id,
		CallID:     req.CallID,
		Capability: req.Capability,
		Failure:    &Failure{Kind: kind, Message: msg},
	}
}

// FailedResult builds a failure result for a request that never reached a
// session, such as an unknown capability.
func FailedResult(req CallRequest, kind errors.ErrorCode, msg string) CallResult {
	return failed(req, 0, kind, msg)
}

// contentText flattens text content items.
func contentText(items []mcpgo.Content) string {
	var parts []string
	for _, item := range items {
		switch c := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, c.Text)
		case *mcpgo.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// truncateResult shortens long payloads, marking the cut.
func truncateResult(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated, %d chars total]", len(s))
}
