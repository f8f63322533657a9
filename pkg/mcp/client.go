// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp implements the Model Context Protocol client used to discover
// and invoke remote capabilities over a newline-delimited JSON-RPC stream.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/telemetry"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 30 * time.Second
	// DefaultResultLimit caps the payload folded into the conversation.
	DefaultResultLimit = 3000
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithDialer sets the transport used to open sessions.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClientInfo sets the implementation reported during the handshake.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.clientInfo = mcpgo.Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the protocol version offered in initialize.
func WithProtocolVersion(v string) ClientOption {
	return func(c *Client) {
		if v != "" {
			c.protocolVersion = v
		}
	}
}

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithResultLimit sets the maximum payload length kept from a call result.
// Zero disables truncation.
func WithResultLimit(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.resultLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client opens protocol sessions. It holds no connection state itself.
type Client struct {
	dialer           Dialer
	clientInfo       mcpgo.Implementation
	protocolVersion  string
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	resultLimit      int
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *telemetry.Metrics
}

// NewClient creates a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer:           EndpointDialer{},
		clientInfo:       mcpgo.Implementation{Name: "sextant", Version: "0.1.0"},
		protocolVersion:  mcpgo.LATEST_PROTOCOL_VERSION,
		handshakeTimeout: defaultHandshakeTimeout,
		callTimeout:      defaultCallTimeout,
		resultLimit:      DefaultResultLimit,
		logger:           telemetry.Component(slog.Default(), "mcp"),
		tracer:           otel.Tracer("sextant/mcp"),
		metrics:          telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials endpoint and performs the handshake. The returned session is
// Ready. Any failure before Ready is reported as a connection error and the
// stream is closed.
func (c *Client) Connect(ctx context.Context, endpoint string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "Session.Connect")
	defer span.End()

	s := newSession(endpoint, c)
	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		s.teardown(err)
		return nil, errors.New(errors.CodeConnection, "dial failed", err).
			WithContext("endpoint", endpoint).
			WithRecoverable(true)
	}
	return c.attach(ctx, s, conn)
}

// Attach runs the handshake over an already open stream.
func (c *Client) Attach(ctx context.Context, name string, conn io.ReadWriteCloser) (*Session, error) {
	return c.attach(ctx, newSession(name, c), conn)
}

func (c *Client) attach(ctx context.Context, s *Session, conn io.ReadWriteCloser) (*Session, error) {
	s.conn = conn
	go s.readLoop()

	if err := s.handshake(ctx, c); err != nil {
		s.teardown(err)
		c.metrics.RecordError(ctx, err, "mcp")
		return nil, errors.New(errors.CodeConnection, "handshake failed", err).
			WithContext("endpoint", s.endpoint)
	}
	return s, nil
}
