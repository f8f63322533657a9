// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/jllopis/sextant/pkg/errors"
)

// unavailableError marks a provider failure that another model may not share:
// the backend is down, overloaded or unreachable.
type unavailableError struct {
	provider string
	cause    error
}

func (e *unavailableError) Error() string {
	if e.cause == nil {
		return e.provider + " unavailable"
	}
	return e.provider + " unavailable: " + e.cause.Error()
}

func (e *unavailableError) Unwrap() error { return e.cause }

// Unavailable wraps cause as a recoverable model error that qualifies for
// routing to another model.
func Unavailable(provider string, cause error) error {
	return errors.New(errors.CodeLLMError, "model backend unavailable",
		&unavailableError{provider: provider, cause: cause}).
		WithContext("provider", provider).
		WithRecoverable(true)
}

// Failed wraps cause as a non-recoverable model error.
func Failed(provider string, cause error) error {
	return errors.New(errors.CodeLLMError, "model request failed", cause).
		WithContext("provider", provider)
}

// IsUnavailable reports whether err means the model could not be reached.
// Caller cancellation is never classified as unavailability.
func IsUnavailable(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	var ue *unavailableError
	if stderrors.As(err, &ue) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne)
}

// IsStatusUnavailable reports whether an HTTP status means the backend is
// overloaded or down.
func IsStatusUnavailable(status int) bool {
	return status == 408 || status == 429 || status >= 500
}
