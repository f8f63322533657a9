// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"io"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Param declares one argument of a served capability.
type Param struct {
	Name        string
	Description string
	// Type is "string", "number" or "boolean". Empty means string.
	Type     string
	Required bool
}

// ToolSpec declares a capability served by Server.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
	// ReadOnly and Destructive become tool annotations and drive the
	// client-side MutatesState flag.
	ReadOnly    bool
	Destructive bool
}

// ToolHandler executes a served capability. A returned error is reported to
// the caller as a tool failure, not a protocol error.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Server is a small capability provider used for local providers and tests.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
}

// RegisterTool registers a capability with the server.
func (s *Server) RegisterTool(spec ToolSpec, handler ToolHandler) {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription(spec.Description),
		mcpgo.WithReadOnlyHintAnnotation(spec.ReadOnly),
		mcpgo.WithDestructiveHintAnnotation(spec.Destructive),
	}
	for _, p := range spec.Params {
		popts := []mcpgo.PropertyOption{mcpgo.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcpgo.Required())
		}
		switch p.Type {
		case "number":
			opts = append(opts, mcpgo.WithNumber(p.Name, popts...))
		case "boolean":
			opts = append(opts, mcpgo.WithBoolean(p.Name, popts...))
		default:
			opts = append(opts, mcpgo.WithString(p.Name, popts...))
		}
	}

	s.mcpServer.AddTool(mcpgo.NewTool(spec.Name, opts...), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		out, err := handler(ctx, request.GetArguments())
		if err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		return mcpgo.NewToolResultText(out), nil
	})
}

// Serve speaks the protocol over r and w until ctx is done or r ends.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, r, w)
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
