// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors with rich context for the orchestration engine.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConnection indicates a transport-level failure before the handshake completed.
	CodeConnection ErrorCode = "CONNECTION_ERROR"

	// CodeProtocol indicates a malformed or unexpected message on an established connection.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotReady indicates a request was issued before the handshake completed.
	CodeNotReady ErrorCode = "NOT_READY"

	// CodeConnectionLost indicates the connection dropped while a request was pending.
	CodeConnectionLost ErrorCode = "CONNECTION_LOST"

	// CodeUnknownCapability indicates the capability name is not registered.
	CodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"

	// CodeBudgetExceeded indicates the iteration budget of a run was exhausted.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// CodeCancelled indicates a caller-initiated abort.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeToolFailure indicates the remote capability reported a failure.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeMemoryError indicates an episodic memory failure.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// SextantError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type SextantError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *SextantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *SextantError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *SextantError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new SextantError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *SextantError {
	return &SextantError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *SextantError) WithContext(key string, value interface{}) *SextantError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
func (e *SextantError) WithAttribute(key, value string) *SextantError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *SextantError) WithRecoverable(recoverable bool) *SextantError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" for metric attributes.
func (e *SextantError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsSextantError returns err as a SextantError, searching the wrap chain.
// Unknown errors are wrapped as CodeInternal.
func AsSextantError(err error) *SextantError {
	if err == nil {
		return nil
	}
	var se *SextantError
	if errors.As(err, &se) {
		return se
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first SextantError in the chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var se *SextantError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *SextantError
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}
