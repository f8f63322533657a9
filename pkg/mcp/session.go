// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	methodInitialized = "notifications/initialized"
	methodCancelled   = "notifications/cancelled"
	methodPing        = "ping"
)

// Session is one streaming connection to a capability provider.
//
// Every request owns a pending slot keyed by its request id. A slot is
// completed by whichever party removes it from the table: the read loop on a
// matching response, the caller on timeout or cancellation, or teardown with
// ConnectionLost. Removal happens under pendingMu, so each slot has exactly
// one writer.
type Session struct {
	endpoint       string
	conn           io.ReadWriteCloser
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *telemetry.Metrics
	defaultTimeout time.Duration
	resultLimit    int

	state  atomic.Int32
	nextID atomic.Int64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan rpcMessage
	lost      error

	closeOnce sync.Once
	done      chan struct{}

	serverInfo mcpgo.Implementation
	protocol   string
}

func newSession(endpoint string, c *Client) *Session {
	s := &Session{
		endpoint:       endpoint,
		logger:         c.logger.With(slog.String("endpoint", endpoint)),
		tracer:         c.tracer,
		metrics:        c.metrics,
		defaultTimeout: c.callTimeout,
		resultLimit:    c.resultLimit,
		pending:        make(map[int64]chan rpcMessage),
		done:           make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Endpoint returns the endpoint the session was dialed with.
func (s *Session) Endpoint() string { return s.endpoint }

// ServerInfo returns the provider implementation reported in the handshake.
func (s *Session) ServerInfo() mcpgo.Implementation { return s.serverInfo }

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string { return s.protocol }

// Done is closed once the session reaches Disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the transport error that ended the session, if any.
func (s *Session) Err() error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.lost
}

// InFlight returns the number of outstanding requests.
func (s *Session) InFlight() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// handshake performs initialize, then acknowledges with the initialized
// notification and moves the session to Ready.
func (s *Session) handshake(ctx context.Context, c *Client) error {
	s.state.Store(int32(StateHandshaking))

	init := mcpgo.InitializeRequest{}
	init.Params.ProtocolVersion = c.protocolVersion
	init.Params.ClientInfo = c.clientInfo
	init.Params.Capabilities = mcpgo.ClientCapabilities{}

	raw, err := s.roundTrip(ctx, string(mcpgo.MethodInitialize), init.Params, c.handshakeTimeout)
	if err != nil {
		return err
	}
	var result mcpgo.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return errors.New(errors.CodeProtocol, "malformed initialize result", err)
	}
	if result.ProtocolVersion == "" {
		return errors.New(errors.CodeProtocol, "initialize result has no protocol version", nil)
	}
	s.serverInfo = result.ServerInfo
	s.protocol = result.ProtocolVersion

	if err := s.notify(methodInitialized, nil); err != nil {
		return err
	}
	if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady)) {
		return errors.New(errors.CodeConnectionLost, "connection dropped during handshake", s.Err())
	}
	s.logger.Info("mcp.session.ready",
		slog.String("server", result.ServerInfo.Name),
		slog.String("protocol", result.ProtocolVersion),
	)
	return nil
}

// ListCapabilities fetches every capability the provider exposes, following
// pagination cursors.
func (s *Session) ListCapabilities(ctx context.Context) ([]Descriptor, error) {
	if st := s.State(); st != StateReady {
		return nil, errors.New(errors.CodeNotReady, "session is not ready", nil).
			WithContext("state", st.String())
	}
	ctx, span := s.tracer.Start(ctx, "Capability.List")
	defer span.End()

	var (
		out    []Descriptor
		cursor mcpgo.Cursor
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := s.roundTrip(ctx, string(mcpgo.MethodToolsList), params, s.defaultTimeout)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		var result mcpgo.ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, errors.New(errors.CodeProtocol, "malformed tools/list result", err)
		}
		// The typed decode normalizes inputSchema; keep the raw bytes too.
		var shadow struct {
			Tools []struct {
				InputSchema json.RawMessage `json:"inputSchema"`
			} `json:"tools"`
		}
		if err := json.Unmarshal(raw, &shadow); err != nil || len(shadow.Tools) != len(result.Tools) {
			return nil, errors.New(errors.CodeProtocol, "malformed tools/list result", err)
		}
		for i, tool := range result.Tools {
			if tool.Name == "" {
				return nil, errors.New(errors.CodeProtocol, "tools/list returned a tool without a name", nil)
			}
			var schema json.RawMessage
			if i < len(shadow.Tools) {
				schema = shadow.Tools[i].InputSchema
			}
			out = append(out, DescriptorFromTool(tool, schema))
		}
		if result.NextCursor == "" || result.NextCursor == cursor {
			break
		}
		cursor = result.NextCursor
	}
	span.SetAttributes(attribute.Int(telemetry.AttrRegistryResults, len(out)))
	return out, nil
}

// Invoke calls a capability and always returns exactly one result for the
// freshly allocated request id. It never retries. Before the handshake
// completes it fails immediately with NotReady.
func (s *Session) Invoke(ctx context.Context, req CallRequest, timeout time.Duration) CallResult {
	if st := s.State(); st != StateReady {
		return failed(req, 0, errors.CodeNotReady, "session is "+st.String())
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	ctx, span := s.tracer.Start(ctx, "Capability.Invoke",
		trace.WithAttributes(telemetry.CapabilityAttributes(req.Capability, req.CallID, 0)...))
	defer span.End()

	call := mcpgo.CallToolRequest{}
	call.Params.Name = req.Capability
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	call.Params.Arguments = args

	start := time.Now()
	id, raw, err := s.call(ctx, string(mcpgo.MethodToolsCall), call.Params, timeout)
	res := s.foldCall(req, id, raw, err)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int64(telemetry.AttrCapabilityRequestID, id),
		attribute.String(telemetry.AttrCapabilityOutcome, res.Outcome()),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, res.Failure.Message)
		s.metrics.RecordError(ctx, res.Err(), "mcp")
	}
	s.metrics.RecordInvocation(ctx, req.Capability, res.Outcome(), res.Duration)
	s.logger.Debug("mcp.invoke.done",
		slog.String("capability", req.Capability),
		slog.Int64("request_id", id),
		slog.String("outcome", res.Outcome()),
		slog.Duration("duration", res.Duration),
	)
	return res
}

func (s *Session) foldCall(req CallRequest, id int64, raw json.RawMessage, err error) CallResult {
	if err != nil {
		kind := errors.CodeOf(err)
		if kind == "" {
			kind = errors.CodeInternal
		}
		return failed(req, id, kind, err.Error())
	}
	result, perr := mcpgo.ParseCallToolResult(&raw)
	if perr != nil {
		return failed(req, id, errors.CodeProtocol, "malformed tools/call result: "+perr.Error())
	}
	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "capability reported an error"
		}
		return failed(req, id, errors.CodeToolFailure, truncateResult(text, s.resultLimit))
	}
	out := CallResult{
		RequestID:  id,
		CallID:     req.CallID,
		Capability: req.Capability,
		Structured: result.StructuredContent,
	}
	if text == "" && result.StructuredContent != nil {
		if b, err := json.Marshal(result.StructuredContent); err == nil {
			text = string(b)
		}
	}
	out.Payload = truncateResult(text, s.resultLimit)
	return out
}

// Close moves the session through Closing to Disconnected. Pending requests
// complete with ConnectionLost.
func (s *Session) Close() error {
	s.state.CompareAndSwap(int32(StateReady), int32(StateClosing))
	s.teardown(nil)
	return nil
}

// Check implements core.HealthChecker.
func (s *Session) Check(_ context.Context) core.HealthResult {
	st := s.State()
	res := core.HealthResult{
		Component: "mcp:" + s.endpoint,
		Status:    core.HealthHealthy,
		Message:   st.String(),
		LastCheck: time.Now().UTC(),
	}
	if st != StateReady {
		res.Status = core.HealthUnhealthy
		res.Error = s.Err()
	}
	return res
}

// roundTrip is call without the allocated id.
func (s *Session) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	_, raw, err := s.call(ctx, method, params, timeout)
	return raw, err
}

// call registers a slot, writes the request and waits for its completion.
func (s *Session) call(ctx context.Context, method string, params any, timeout time.Duration) (int64, json.RawMessage, error) {
	id := s.nextID.Add(1)
	slot := make(chan rpcMessage, 1)

	s.pendingMu.Lock()
	if s.lost != nil || s.State() == StateDisconnected {
		s.pendingMu.Unlock()
		return id, nil, errors.New(errors.CodeConnectionLost, "connection is closed", s.lost)
	}
	s.pending[id] = slot
	s.pendingMu.Unlock()

	frame, err := newRequest(id, method, params)
	if err != nil {
		s.release(id)
		return id, nil, errors.New(errors.CodeInvalidInput, "cannot encode request", err)
	}
	if err := s.write(frame); err != nil {
		s.release(id)
		s.teardown(err)
		return id, nil, errors.New(errors.CodeConnectionLost, "write failed", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-slot:
		raw, err := s.completeRaw(msg, ok)
		return id, raw, err
	case <-timer.C:
		if s.release(id) {
			return id, nil, errors.New(errors.CodeTimeout,
				fmt.Sprintf("no response within %s", timeout), nil).WithRecoverable(true)
		}
	case <-ctx.Done():
		if s.release(id) {
			s.cancelRemote(id, ctx.Err())
			return id, nil, errors.New(errors.CodeCancelled, "request cancelled", ctx.Err())
		}
	}
	// The read loop or teardown took the slot first; its value is already
	// buffered or the channel is closed.
	msg, ok := <-slot
	raw, err := s.completeRaw(msg, ok)
	return id, raw, err
}

func (s *Session) completeRaw(msg rpcMessage, ok bool) (json.RawMessage, error) {
	if !ok {
		return nil, errors.New(errors.CodeConnectionLost, "connection lost while awaiting response", s.Err())
	}
	if msg.Error != nil {
		return nil, errors.New(errors.CodeProtocol, msg.Error.Message, msg.Error).
			WithContext("rpc_code", msg.Error.Code)
	}
	if len(msg.Result) == 0 {
		return nil, errors.New(errors.CodeProtocol, "response has neither result nor error", nil)
	}
	return msg.Result, nil
}

// release removes a pending slot and reports whether the caller now owns it.
func (s *Session) release(id int64) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *Session) cancelRemote(id int64, reason error) {
	if s.State() != StateReady {
		return
	}
	params := map[string]any{"requestId": id}
	if reason != nil {
		params["reason"] = reason.Error()
	}
	if err := s.notify(methodCancelled, params); err != nil {
		s.logger.Debug("mcp.cancel.failed", slog.Int64("request_id", id), slog.String("error", err.Error()))
	}
}

func (s *Session) notify(method string, params any) error {
	frame, err := newRequest(0, method, params)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "cannot encode notification", err)
	}
	if err := s.write(frame); err != nil {
		s.teardown(err)
		return errors.New(errors.CodeConnectionLost, "write failed", err)
	}
	return nil
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(append(frame, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop dispatches incoming frames until the stream ends.
func (s *Session) readLoop() {
	reader := bufio.NewReaderSize(s.conn, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			s.dispatch(trimmed)
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			s.teardown(err)
			return
		}
	}
}

func (s *Session) dispatch(frame []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.logger.Warn("mcp.frame.malformed", slog.String("error", err.Error()))
		return
	}
	switch {
	case msg.isResponse():
		id, ok := msg.requestID()
		if !ok {
			s.logger.Warn("mcp.frame.bad_id", slog.String("id", string(msg.ID)))
			return
		}
		s.pendingMu.Lock()
		slot, found := s.pending[id]
		if found {
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()
		if !found {
			s.logger.Debug("mcp.response.orphan", slog.Int64("request_id", id))
			return
		}
		slot <- msg
	case msg.isNotification():
		s.logger.Debug("mcp.notification", slog.String("method", msg.Method))
	default:
		s.answerServerRequest(msg)
	}
}

// answerServerRequest replies to provider-initiated requests. Only ping is
// supported.
func (s *Session) answerServerRequest(msg rpcMessage) {
	var (
		frame []byte
		err   error
	)
	if msg.Method == methodPing {
		frame, err = newResponse(msg.ID, struct{}{}, nil)
	} else {
		frame, err = newResponse(msg.ID, nil, &rpcError{Code: rpcMethodNotFound, Message: "method not found: " + msg.Method})
	}
	if err == nil {
		err = s.write(frame)
	}
	if err != nil {
		s.logger.Debug("mcp.reply.failed", slog.String("method", msg.Method), slog.String("error", err.Error()))
	}
}

// teardown moves to Disconnected, closes the stream and completes every
// pending slot with ConnectionLost. It runs once.
func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateDisconnected)))
		if s.conn != nil {
			_ = s.conn.Close()
		}

		s.pendingMu.Lock()
		if cause == nil {
			cause = io.ErrClosedPipe
		}
		s.lost = cause
		orphans := s.pending
		s.pending = make(map[int64]chan rpcMessage)
		s.pendingMu.Unlock()

		for _, slot := range orphans {
			close(slot)
		}
		close(s.done)

		if prev == StateClosing {
			s.logger.Info("mcp.session.closed")
		} else {
			s.logger.Warn("mcp.session.lost",
				slog.String("previous_state", prev.String()),
				slog.String("error", cause.Error()),
				slog.Int("pending", len(orphans)),
			)
		}
	})
}
