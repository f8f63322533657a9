// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePeer is a scripted provider on the far end of a net.Pipe.
type fakePeer struct {
	conn net.Conn
	r    *bufio.Reader
}

func (p *fakePeer) next() (rpcMessage, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := p.r.ReadBytes('\n')
	if err != nil {
		return rpcMessage{}, err
	}
	var msg rpcMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return rpcMessage{}, fmt.Errorf("decode %q: %w", line, err)
	}
	return msg, nil
}

func (p *fakePeer) send(frame string) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := p.conn.Write([]byte(frame + "\n"))
	return err
}

func (p *fakePeer) reply(id json.RawMessage, result any) error {
	frame, err := newResponse(id, result, nil)
	if err != nil {
		return err
	}
	return p.send(string(frame))
}

func (p *fakePeer) replyError(id json.RawMessage, code int, message string) error {
	frame, err := newResponse(id, nil, &rpcError{Code: code, Message: message})
	if err != nil {
		return err
	}
	return p.send(string(frame))
}

func (p *fakePeer) replyText(id json.RawMessage, text string, isError bool) error {
	return p.reply(id, map[string]any{
		"content": []any{map[string]any{"type": "text", "text": text}},
		"isError": isError,
	})
}

// handshake answers initialize and consumes the initialized notification.
func (p *fakePeer) handshake() error {
	msg, err := p.next()
	if err != nil {
		return err
	}
	if msg.Method != "initialize" {
		return fmt.Errorf("expected initialize, got %q", msg.Method)
	}
	if err := p.reply(msg.ID, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "fake", "version": "1.0.0"},
	}); err != nil {
		return err
	}
	msg, err = p.next()
	if err != nil {
		return err
	}
	if msg.Method != methodInitialized {
		return fmt.Errorf("expected %s, got %q", methodInitialized, msg.Method)
	}
	return nil
}

func connectFake(t *testing.T, opts ...ClientOption) (*Session, *fakePeer) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	peer := &fakePeer{conn: serverEnd, r: bufio.NewReader(serverEnd)}

	errc := make(chan error, 1)
	go func() { errc <- peer.handshake() }()

	opts = append([]ClientOption{WithCallTimeout(time.Second)}, opts...)
	s, err := NewClient(opts...).Attach(context.Background(), "fake", clientEnd)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	t.Cleanup(func() {
		_ = s.Close()
		_ = serverEnd.Close()
	})
	return s, peer
}

func invokeAsync(ctx context.Context, s *Session, req CallRequest, timeout time.Duration) <-chan CallResult {
	out := make(chan CallResult, 1)
	go func() { out <- s.Invoke(ctx, req, timeout) }()
	return out
}
