// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini adapts the Google Gemini API to llm.Provider.
package gemini

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jllopis/sextant/pkg/llm"
)

const defaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	apiKey string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithAPIKey sets the API key. Without it the client reads GOOGLE_API_KEY
// or GEMINI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.apiKey = apiKey
	}
}

// New creates a Gemini provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{model: defaultModel}
	for _, opt := range opts {
		opt(p)
	}
	var cc *genai.ClientConfig
	if p.apiKey != "" {
		cc = &genai.ClientConfig{APIKey: p.apiKey}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// Model returns the default model.
func (p *Provider) Model() string { return p.model }

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return convertResponse(resp), nil
}

// Close is a no-op; the client holds no connection of its own.
func (p *Provider) Close() error {
	return nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.Code
	case stderrors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	default:
		return llm.Unavailable("gemini", err)
	}
	if llm.IsStatusUnavailable(status) {
		return llm.Unavailable("gemini", err)
	}
	return llm.Failed("gemini", err)
}

func buildRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	return contents, config
}

// Gemini matches function responses by name. Call IDs carry the name plus
// the position in the turn so parallel calls to one function stay distinct.
func callID(name string, i int) string { return fmt.Sprintf("%s#%d", name, i) }

func callName(id string) string {
	if i := strings.LastIndexByte(id, '#'); i > 0 {
		return id[:i]
	}
	return id
}

// convertMessages splits out the system prompt. Several system messages
// are joined in order.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case llm.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args, err := tc.DecodeArguments()
				if err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			contents = append(contents, content)
		case llm.RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &result); err != nil || result == nil {
				result = map[string]any{"result": msg.Content}
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     callName(msg.ToolCallID),
				Response: result,
			}}
			// Consecutive tool results belong to one user turn.
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func convertTools(tools []llm.Tool) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema *genai.Schema
		if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		normalizeSchema(schema)
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  schema,
		})
	}
	return declarations
}

// normalizeSchema upper-cases JSON Schema type names to Gemini's enum.
func normalizeSchema(s *genai.Schema) {
	if s == nil {
		return
	}
	s.Type = genai.Type(strings.ToUpper(string(s.Type)))
	for _, prop := range s.Properties {
		normalizeSchema(prop)
	}
	normalizeSchema(s.Items)
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			result.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:   callID(part.FunctionCall.Name, len(result.ToolCalls)),
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return result
}

var _ llm.Provider = (*Provider)(nil)
