// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes used when answering server-initiated requests.
const (
	rpcMethodNotFound = -32601
)

// rpcMessage is the single envelope for requests, responses and
// notifications on the wire.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (m *rpcMessage) isResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

func (m *rpcMessage) isNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// requestID decodes the id as the int64 this client issued. Servers may echo
// it as a number or a numeric string.
func (m *rpcMessage) requestID() (int64, bool) {
	raw := strings.TrimSpace(string(m.ID))
	if raw == "" || raw == "null" {
		return 0, false
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func newRequest(id int64, method string, params any) ([]byte, error) {
	msg := rpcMessage{JSONRPC: jsonrpcVersion, Method: method}
	if id > 0 {
		msg.ID = json.RawMessage(strconv.FormatInt(id, 10))
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		msg.Params = raw
	}
	return json.Marshal(msg)
}

func newResponse(id json.RawMessage, result any, rerr *rpcError) ([]byte, error) {
	msg := rpcMessage{JSONRPC: jsonrpcVersion, ID: id, Error: rerr}
	if rerr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		msg.Result = raw
	}
	return json.Marshal(msg)
}
