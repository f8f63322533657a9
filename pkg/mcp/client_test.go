// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/sextant/pkg/errors"
)

const mcpStdioHelperEnv = "SEXTANT_MCP_STDIO_HELPER"

func newDemoServer() *Server {
	srv := NewServer("test-provider", "1.0.0")
	srv.RegisterTool(ToolSpec{
		Name:        "echo_text",
		Description: "Echo the given text back",
		Params:      []Param{{Name: "text", Description: "text to echo", Required: true}},
		ReadOnly:    true,
	}, func(_ context.Context, args map[string]any) (string, error) {
		return fmt.Sprint(args["text"]), nil
	})
	srv.RegisterTool(ToolSpec{
		Name:        "orders_delete",
		Description: "Delete an order",
		Destructive: true,
	}, func(context.Context, map[string]any) (string, error) {
		return "", fmt.Errorf("order store is read-only")
	})
	return srv
}

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}
	if err := newDemoServer().ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClient_ConnectDialFailure(t *testing.T) {
	dialer := DialerFunc(func(context.Context, string) (io.ReadWriteCloser, error) {
		return nil, fmt.Errorf("connection refused")
	})
	_, err := NewClient(WithDialer(dialer)).Connect(context.Background(), "tcp://127.0.0.1:1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConnection))
}

func TestClient_HandshakeRejected(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	peer := &fakePeer{conn: serverEnd, r: bufio.NewReader(serverEnd)}

	go func() {
		msg, err := peer.next()
		if err == nil {
			_ = peer.replyError(msg.ID, -32600, "unsupported protocol version")
		}
	}()

	_, err := NewClient().Attach(context.Background(), "fake", clientEnd)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConnection))
	assert.Contains(t, err.Error(), "unsupported protocol version")
}

func TestClient_HandshakeTimeout(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	go func() { _, _ = io.Copy(io.Discard, serverEnd) }()

	_, err := NewClient(WithHandshakeTimeout(50*time.Millisecond)).Attach(context.Background(), "silent", clientEnd)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConnection))
	assert.True(t, errors.HasCode(err, errors.CodeTimeout))
}

func TestClient_AgainstInProcessServer(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = newDemoServer().Serve(ctx, serverEnd, serverEnd) }()

	s, err := NewClient().Attach(ctx, "in-process", clientEnd)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "test-provider", s.ServerInfo().Name)

	descs, err := s.ListCapabilities(ctx)
	require.NoError(t, err)
	byName := map[string]Descriptor{}
	for _, d := range descs {
		byName[d.Name] = d
	}
	require.Contains(t, byName, "echo_text")
	require.Contains(t, byName, "orders_delete")
	assert.Equal(t, []string{"text"}, byName["echo_text"].RequiredArgs())
	assert.False(t, byName["echo_text"].MutatesState)
	assert.True(t, byName["orders_delete"].MutatesState)

	res := s.Invoke(ctx, CallRequest{Capability: "echo_text", Arguments: map[string]any{"text": "hello"}}, 0)
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, "hello", res.Payload)

	res = s.Invoke(ctx, CallRequest{Capability: "orders_delete"}, 0)
	require.False(t, res.OK())
	assert.Equal(t, errors.CodeToolFailure, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "read-only")
}

func TestClient_StdioSubprocess(t *testing.T) {
	t.Setenv(mcpStdioHelperEnv, "1")

	exe, err := os.Executable()
	require.NoError(t, err)
	if strings.ContainsAny(exe, " \t") {
		t.Skip("test binary path contains whitespace")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewClient().Connect(ctx, "stdio:"+exe+" -test.run=^TestHelperMCPStdioServer$")
	require.NoError(t, err)
	defer s.Close()

	descs, err := s.ListCapabilities(ctx)
	require.NoError(t, err)
	assert.Len(t, descs, 2)

	res := s.Invoke(ctx, CallRequest{Capability: "echo_text", Arguments: map[string]any{"text": "over stdio"}}, 0)
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, "over stdio", res.Payload)
}

func TestEndpointDialer_RejectsUnknownScheme(t *testing.T) {
	_, err := EndpointDialer{}.Dial(context.Background(), "ftp://example")
	assert.Error(t, err)
	_, err = EndpointDialer{}.Dial(context.Background(), "stdio:")
	assert.Error(t, err)
}
